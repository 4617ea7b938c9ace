package isolate

import (
	"fmt"
	"strconv"
	"strings"
)

// Metrics are the raw measurements isolate writes to its meta file.
type Metrics struct {
	TimeSec     float64
	TimeWallSec float64
	MaxRssKiB   int64
	CgMemKiB    int64
	ExitCode    int64
	ExitSignal  *int64
	CgOomKilled bool
	Killed      bool
	Status      string
	Message     string
}

// parseMetaFile parses isolate's key:value meta file. Unknown keys are
// ignored so newer isolate versions stay compatible.
func parseMetaFile(content []byte) (*Metrics, error) {
	m := &Metrics{}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("malformed meta line %q", line)
		}

		var err error
		switch key {
		case "time":
			m.TimeSec, err = strconv.ParseFloat(value, 64)
		case "time-wall":
			m.TimeWallSec, err = strconv.ParseFloat(value, 64)
		case "max-rss":
			m.MaxRssKiB, err = strconv.ParseInt(value, 10, 64)
		case "cg-mem":
			m.CgMemKiB, err = strconv.ParseInt(value, 10, 64)
		case "exitcode":
			m.ExitCode, err = strconv.ParseInt(value, 10, 64)
		case "exitsig":
			var sig int64
			sig, err = strconv.ParseInt(value, 10, 64)
			m.ExitSignal = &sig
		case "cg-oom-killed":
			m.CgOomKilled = value == "1"
		case "killed":
			m.Killed = value == "1"
		case "status":
			m.Status = value
		case "message":
			m.Message = value
		}
		if err != nil {
			return nil, fmt.Errorf("malformed meta value for %q: %w", key, err)
		}
	}
	return m, nil
}
