// harvester crawls manga metadata services (MyAnimeList through Jikan,
// MangaUpdates, AniList and MangaDex) into a document store. Its pace adapts to
// the throttling of every service and each run resumes from its checkpoint.
package main

import (
	"fmt"
	"os"

	"github.com/mangaraw/harvester/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
