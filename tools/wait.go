package tools

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/pauldw/pwalker-mcp/errors"
)

// maxWait caps a single wait so a bad argument cannot overflow time.Duration.
const maxWait = 24 * time.Hour

// waitTool implements wait. It blocks only the calling request.
type waitTool struct{}

func (t *waitTool) Name() string { return "wait" }

func (t *waitTool) Description() string {
	return "Wait for the given number of seconds, for example to let a background process make progress."
}

func (t *waitTool) Parameters() map[string]interface{} {
	return schema(map[string]interface{}{
		"seconds": map[string]interface{}{
			"type":        "number",
			"minimum":     0,
			"description": "Seconds to wait. Fractions are allowed.",
		},
	}, "seconds")
}

func (t *waitTool) Execute(ctx context.Context, args Args) (string, error) {
	seconds, err := args.Float("seconds")
	if err != nil {
		return "", err
	}
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return "", errors.InvalidInput("seconds must be a non-negative number")
	}

	d := maxWait
	if seconds < maxWait.Seconds() {
		d = time.Duration(seconds * float64(time.Second))
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return "", errors.Wrap(ctx.Err(), "wait interrupted")
	}

	return "Waited for " + strconv.FormatFloat(seconds, 'f', -1, 64) + " seconds.", nil
}
