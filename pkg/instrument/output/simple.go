package output

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"math/cmplx"
	"time"

	"github.com/norasector/vnacore/pkg/types"
	"github.com/norasector/vnacore/pkg/util"
	"golang.org/x/sync/errgroup"
)

const (
	measurementBufferLength = 8
	flushInterval           = time.Second
)

// SimpleOutput writes one text line per measurement, optionally restricted to
// a set of parameter names.
type SimpleOutput struct {
	dest        io.Writer
	recvChan    chan *types.TaggedMeasurement
	outChan     chan *types.TaggedMeasurement
	paramFilter map[string]struct{}
}

func NewSimpleOutput(dest io.Writer, params []string) *SimpleOutput {
	ret := &SimpleOutput{
		dest:        dest,
		recvChan:    make(chan *types.TaggedMeasurement, measurementBufferLength),
		outChan:     make(chan *types.TaggedMeasurement, measurementBufferLength),
		paramFilter: make(map[string]struct{}),
	}

	for _, p := range params {
		ret.paramFilter[p] = struct{}{}
	}

	return ret
}

func (s *SimpleOutput) Receive() chan<- *types.TaggedMeasurement {
	return s.recvChan
}

func (s *SimpleOutput) keep(name string) bool {
	if len(s.paramFilter) == 0 {
		return true
	}
	_, ok := s.paramFilter[name]
	return ok
}

func (s *SimpleOutput) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case m := <-s.recvChan:
				if m.VNA == nil && m.SA == nil {
					continue
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case s.outChan <- m:
				}
			}
		}
	})

	eg.Go(func() error {
		w := bufio.NewWriter(s.dest)
		tick := time.NewTicker(flushInterval)
		defer tick.Stop()

		for {
			select {
			case <-ctx.Done():
				w.Flush()
				return ctx.Err()
			case <-tick.C:
				if err := w.Flush(); err != nil {
					return err
				}
			case m := <-s.outChan:
				if _, err := io.WriteString(w, s.Format(m)); err != nil {
					return err
				}
				if w.Buffered() >= 4096 {
					if err := w.Flush(); err != nil {
						return err
					}
				}
			}
		}
	})

	return eg.Wait()
}

// Format renders a measurement as a single line, parameters sorted by name.
func (s *SimpleOutput) Format(m *types.TaggedMeasurement) string {
	if m.VNA != nil {
		line := fmt.Sprintf("%s vna point=%d freq=%s dbm=%.2f", m.Serial, m.VNA.PointNum, util.MHzToString(m.VNA.Frequency), m.VNA.DBm)
		for _, name := range sortedNames(m.VNA.Measurements) {
			if !s.keep(name) {
				continue
			}
			v := m.VNA.Measurements[name]
			line += fmt.Sprintf(" %s=%.4f/%.2f", name, cmplx.Abs(v), cmplx.Phase(v)*180/math.Pi)
		}
		return line + "\n"
	}
	line := fmt.Sprintf("%s sa point=%d freq=%s", m.Serial, m.SA.PointNum, util.MHzToString(m.SA.Frequency))
	for _, name := range sortedNames(m.SA.Measurements) {
		if !s.keep(name) {
			continue
		}
		line += fmt.Sprintf(" %s=%.2f", name, m.SA.Measurements[name])
	}
	return line + "\n"
}
