package mirror

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// progressReader logs download progress every interval. It is used from a
// single io.Copy and is not safe for concurrent use.
type progressReader struct {
	r        io.Reader
	logger   logrus.FieldLogger
	fn       ProgressFunc
	total    int64
	read     int64
	started  time.Time
	lastLog  time.Time
	interval time.Duration
}

func newProgressReader(r io.Reader, logger logrus.FieldLogger, fn ProgressFunc, total int64, interval time.Duration) *progressReader {
	return &progressReader{r: r, logger: logger, fn: fn, total: total, started: time.Now(), interval: interval}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		now := time.Now()
		if p.lastLog.IsZero() || now.Sub(p.lastLog) >= p.interval {
			p.log(now)
			p.lastLog = now
		}
	}
	return n, err
}

func (p *progressReader) log(now time.Time) {
	percent := float64(0)
	if p.total > 0 {
		percent = float64(p.read) / float64(p.total) * 100
	}
	var rate float64
	if elapsed := now.Sub(p.started).Seconds(); elapsed > 0 {
		rate = float64(p.read) / elapsed
	}
	eta := "unknown"
	if p.total > 0 && rate > 0 {
		remaining := time.Duration(float64(p.total-p.read) / rate * float64(time.Second))
		eta = remaining.Truncate(time.Second).String()
	}
	p.logger.WithFields(logrus.Fields{
		"downloaded": humanize.IBytes(uint64(p.read)),
		"total":      humanize.IBytes(uint64(p.total)),
		"percent":    fmt.Sprintf("%.1f", percent),
		"avg_rate":   humanize.IBytes(uint64(rate)) + "/s",
		"eta":        eta,
	}).Info("mirror download progress")

	if p.fn != nil {
		p.fn(p.read, p.total, rate)
	}
}
