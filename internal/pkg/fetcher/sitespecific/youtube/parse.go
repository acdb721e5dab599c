package youtube

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/mangaraw/harvester/internal/pkg/retry"
)

// Video is one search result.
type Video struct {
	VideoID      string `json:"video_id"`
	Title        string `json:"title"`
	ChannelTitle string `json:"channel_title,omitempty"`
	ChannelID    string `json:"channel_id,omitempty"`
	ChannelURL   string `json:"channel_url,omitempty"`
	VideoURL     string `json:"video_url"`
	ViewCount    int64  `json:"view_count"`
	RawViewText  string `json:"raw_view_text,omitempty"`
	Language     string `json:"language,omitempty"`
	Query        string `json:"query,omitempty"`
}

var captchaMarkers = [][]byte{
	[]byte("Our systems have detected unusual traffic"),
	[]byte("verify you are human"),
}

const initialDataMarker = "ytInitialData"

// ParseSearchPage extracts the videos of a search result page. A captcha
// page is reported as retry.ErrRateLimited.
func ParseSearchPage(body []byte) (json.RawMessage, error) {
	for _, marker := range captchaMarkers {
		if bytes.Contains(body, marker) {
			return nil, fmt.Errorf("%w: captcha page", retry.ErrRateLimited)
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var data any
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		data = initialData(s.Text())
		return data == nil
	})
	if data == nil {
		return nil, fmt.Errorf("no %s in page", initialDataMarker)
	}

	videos := []Video{}
	walkRenderers(data, func(raw []byte) {
		var r videoRenderer
		if json.Unmarshal(raw, &r) != nil || r.VideoID == "" {
			return
		}
		videos = append(videos, r.video())
	})

	return json.Marshal(videos)
}

// initialData decodes the object assigned to ytInitialData in a script.
func initialData(script string) any {
	idx := strings.Index(script, initialDataMarker)
	if idx < 0 {
		return nil
	}
	start := strings.IndexByte(script[idx:], '{')
	if start < 0 {
		return nil
	}

	var data any
	if err := json.NewDecoder(strings.NewReader(script[idx+start:])).Decode(&data); err != nil {
		return nil
	}
	return data
}

// walkRenderers calls fn with every videoRenderer object found in data.
// Arrays keep their order and object keys are visited sorted.
func walkRenderers(data any, fn func(raw []byte)) {
	switch v := data.(type) {
	case map[string]any:
		for _, key := range slices.Sorted(maps.Keys(v)) {
			if key == "videoRenderer" {
				if raw, err := json.Marshal(v[key]); err == nil {
					fn(raw)
				}
				continue
			}
			walkRenderers(v[key], fn)
		}
	case []any:
		for _, value := range v {
			walkRenderers(value, fn)
		}
	}
}

type run struct {
	Text               string `json:"text"`
	NavigationEndpoint struct {
		BrowseEndpoint struct {
			BrowseID string `json:"browseId"`
		} `json:"browseEndpoint"`
	} `json:"navigationEndpoint"`
}

type text struct {
	SimpleText string `json:"simpleText"`
	Runs       []run  `json:"runs"`
}

func (t text) String() string {
	if t.SimpleText != "" {
		return t.SimpleText
	}
	var b strings.Builder
	for _, r := range t.Runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

type videoRenderer struct {
	VideoID            string `json:"videoId"`
	Title              text   `json:"title"`
	OwnerText          text   `json:"ownerText"`
	ViewCountText      text   `json:"viewCountText"`
	ShortViewCountText text   `json:"shortViewCountText"`
}

func (r videoRenderer) video() Video {
	v := Video{
		VideoID:  r.VideoID,
		Title:    r.Title.String(),
		VideoURL: "https://www.youtube.com/watch?v=" + r.VideoID,
	}
	v.Language = DetectLanguage(v.Title)

	if len(r.OwnerText.Runs) > 0 {
		owner := r.OwnerText.Runs[0]
		v.ChannelTitle = owner.Text
		v.ChannelID = owner.NavigationEndpoint.BrowseEndpoint.BrowseID
		if v.ChannelID != "" {
			v.ChannelURL = "https://www.youtube.com/channel/" + v.ChannelID
		}
	}

	v.RawViewText = r.ViewCountText.String()
	if v.RawViewText == "" {
		v.RawViewText = r.ShortViewCountText.String()
	}
	v.ViewCount, _ = ParseViewCount(v.RawViewText)

	return v
}

var (
	viewNumber = regexp.MustCompile(`[\d.,]+`)
	viewWords  = strings.NewReplacer("lượt xem", "", "views", "", "view", "", "\u00a0", " ")
)

var viewMultipliers = map[string]float64{
	"":         1,
	"k":        1e3,
	"n":        1e3,
	"ng":       1e3,
	"nghìn":    1e3,
	"thousand": 1e3,
	"m":        1e6,
	"mn":       1e6,
	"tr":       1e6,
	"triệu":    1e6,
	"million":  1e6,
	"b":        1e9,
	"bn":       1e9,
	"tỷ":       1e9,
	"billion":  1e9,
}

// ParseViewCount reads the view counts shown by YouTube, such as
// "1,234,567 views", "1.2M views" or "1,2 Tr lượt xem".
func ParseViewCount(s string) (int64, bool) {
	s = strings.TrimSpace(viewWords.Replace(strings.ToLower(s)))
	loc := viewNumber.FindStringIndex(s)
	if loc == nil {
		return 0, false
	}

	number := s[loc[0]:loc[1]]
	multiplier, ok := viewMultipliers[strings.TrimSpace(s[loc[1]:])]
	if !ok {
		return 0, false
	}

	if multiplier == 1 {
		n, err := strconv.ParseInt(strings.NewReplacer(",", "", ".", "").Replace(number), 10, 64)
		return n, err == nil
	}

	f, err := strconv.ParseFloat(strings.ReplaceAll(number, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return int64(math.Round(f * multiplier)), true
}

const vietnameseLetters = "ăâêôơưđĂÂÊÔƠƯĐáàảãạấầẩẫậắằẳẵặéèẻẽẹếềểễệíìỉĩịóòỏõọốồổỗộớờởỡợúùủũụứừửữựýỳỷỹỵ"

// DetectLanguage guesses the language of a video title: "vi" for Vietnamese
// diacritics, "en" for plain Latin text and "" for anything else.
func DetectLanguage(title string) string {
	if strings.TrimSpace(title) == "" {
		return ""
	}

	vietnamese := false
	for _, r := range title {
		switch {
		case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul):
			return ""
		case strings.ContainsRune(vietnameseLetters, r):
			vietnamese = true
		case unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r):
			return ""
		}
	}

	if vietnamese {
		return "vi"
	}
	return "en"
}
