package fetcher

import (
	"encoding/json"
	"fmt"

	"github.com/mangaraw/harvester/internal/pkg/retry"
	"github.com/mangaraw/harvester/pkg/models"
)

// Part is the result of one sub-request of a WorkItem.
type Part struct {
	Name    string
	Primary bool
	Result  retry.Result
	Payload json.RawMessage
}

// OK reports whether the part was fetched.
func (p Part) OK() bool {
	return p.Result.Class == retry.ClassOK
}

// Empty reports whether the part does not exist remotely. For a secondary part
// this is an empty sub-resource, not a failure.
func (p Part) Empty() bool {
	return p.Result.Class == retry.ClassNotFound
}

// Failed reports whether the part failed terminally.
func (p Part) Failed() bool {
	return p.Result.Class == retry.ClassTransient || p.Result.Class == retry.ClassFatal
}

// Canceled reports whether the part was cut short by shutdown.
func (p Part) Canceled() bool {
	return p.Result.Kind == models.ErrKindCanceled
}

func (p Part) describeError() string {
	switch {
	case p.Result.Err != nil:
		return fmt.Sprintf("%s: %s", p.Result.Kind, p.Result.Err)
	case p.Result.StatusCode != 0:
		return fmt.Sprintf("%s_%d", p.Result.Kind, p.Result.StatusCode)
	}
	return string(p.Result.Kind)
}

// Fold merges the parts of one WorkItem into its FetchOutcome:
//   - any canceled part cancels the whole item
//   - a primary part that is not found makes the item NotFound
//   - no failed part gives Success, or NotFound when every part is empty
//   - at least one fetched part and one failed part give PartialSuccess
//   - with nothing fetched, a part that exhausted its retries gives
//     TransientError and a fatal failure gives FatalError
func Fold(parts ...Part) models.FetchOutcome {
	outcome := models.FetchOutcome{
		HTTP: make(map[string]int, len(parts)),
	}

	var (
		fetched   int
		exhausted *Part
		fatal     *Part
	)

	for _, part := range parts {
		outcome.HTTP[part.Name] = part.Result.StatusCode
		outcome.Attempts += part.Result.Attempts
	}

	for i := range parts {
		part := &parts[i]
		if part.Canceled() {
			outcome.Kind = models.TransientError
			outcome.ErrorKind = models.ErrKindCanceled
			return outcome
		}

		switch {
		case part.OK():
			fetched++
			if outcome.Payload == nil {
				outcome.Payload = make(map[string]json.RawMessage, len(parts))
			}
			outcome.Payload[part.Name] = part.Payload
		case part.Empty():
			if part.Primary {
				outcome.Kind = models.NotFound
				outcome.Payload = nil
				outcome.Errors = nil
				outcome.MissingParts = nil
				return outcome
			}
		case part.Failed():
			if outcome.Errors == nil {
				outcome.Errors = make(map[string]string)
			}
			outcome.Errors[part.Name] = part.describeError()
			outcome.MissingParts = append(outcome.MissingParts, part.Name)

			if part.Result.Exhausted && exhausted == nil {
				exhausted = part
			}
			if !part.Result.Exhausted && (fatal == nil || (part.Primary && !fatal.Primary)) {
				fatal = part
			}
		}
	}

	switch {
	case len(outcome.MissingParts) == 0 && fetched > 0:
		outcome.Kind = models.Success
	case len(outcome.MissingParts) == 0:
		outcome.Kind = models.NotFound
	case fetched > 0:
		outcome.Kind = models.PartialSuccess
	case exhausted != nil:
		outcome.Kind = models.TransientError
		outcome.ErrorKind = exhausted.Result.Kind
	default:
		outcome.Kind = models.FatalError
		outcome.ErrorKind = fatal.Result.Kind
	}

	return outcome
}
