package output

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"sort"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/vnacore/pkg/instrument/config"
	"github.com/norasector/vnacore/pkg/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	receiveChannels = 8
	numListeners    = 2
)

// MeasurementUDPOutput sends every fused measurement as a length prefixed
// protobuf Struct to a set of UDP destinations.
type MeasurementUDPOutput struct {
	dests    []config.OutputDestination
	recvChan chan *types.TaggedMeasurement
	metrics  api.WriteAPI
}

func NewMeasurementUDPOutput(dests []config.OutputDestination, metrics api.WriteAPI) *MeasurementUDPOutput {
	return &MeasurementUDPOutput{
		dests:    dests,
		recvChan: make(chan *types.TaggedMeasurement, receiveChannels),
		metrics:  metrics,
	}
}

func (s *MeasurementUDPOutput) Receive() chan<- *types.TaggedMeasurement {
	return s.recvChan
}

func (s *MeasurementUDPOutput) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	destAddrs := make([]*net.UDPAddr, 0, len(s.dests))
	for _, dest := range s.dests {
		ips, err := net.LookupIP(dest.Host)
		if err != nil {
			return err
		}
		if len(ips) == 0 {
			return fmt.Errorf("no IPs returned for %s", dest.Host)
		}

		destAddr := &net.UDPAddr{IP: ips[0], Port: dest.Port}
		destAddrs = append(destAddrs, destAddr)
		log.Info().IPAddr("dest_ip", destAddr.IP).Int("port", dest.Port).Msg("stream output starting")
	}

	for i := 0; i < numListeners; i++ {
		eg.Go(func() error {
			conn, err := net.ListenUDP("udp", nil)
			if err != nil {
				return err
			}
			defer conn.Close()

			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case m := <-s.recvChan:
					msg, err := Encode(m)
					if err != nil {
						log.Warn().Err(err).Msg("error encoding measurement")
						continue
					}

					success := true
					var bytesWritten int
					for _, destAddr := range destAddrs {
						bytesWritten, err = conn.WriteToUDP(msg, destAddr)
						if err != nil {
							log.Error().Err(err).Msg("error writing")
							success = false
						}
					}

					go s.metrics.WritePoint(influxdb2.NewPoint("output.sent_frame",
						map[string]string{
							"output": "udp",
							"serial": m.Serial,
						},
						map[string]interface{}{
							"bytes_written": bytesWritten,
							"sent":          boolToInt(success),
							"dropped":       boolToInt(!success),
						}, time.Now()))
				}
			}
		})
	}

	return eg.Wait()
}

// Encode frames a measurement as a little endian uint16 length followed by the
// protobuf encoded Struct.
func Encode(m *types.TaggedMeasurement) ([]byte, error) {
	pb, err := ToProtobuf(m)
	if err != nil {
		return nil, err
	}
	encoded, err := proto.Marshal(pb)
	if err != nil {
		return nil, err
	}
	if len(encoded) > math.MaxUint16 {
		return nil, fmt.Errorf("encoded measurement too large: %d bytes", len(encoded))
	}

	var msgBuf bytes.Buffer
	if err := binary.Write(&msgBuf, binary.LittleEndian, uint16(len(encoded))); err != nil {
		return nil, err
	}
	if _, err := msgBuf.Write(encoded); err != nil {
		return nil, err
	}
	return msgBuf.Bytes(), nil
}

// ToProtobuf converts a measurement to a Struct. Complex values become [re, im] lists.
func ToProtobuf(m *types.TaggedMeasurement) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"serial": m.Serial,
	}
	switch {
	case m.VNA != nil:
		params := make(map[string]interface{}, len(m.VNA.Measurements))
		for name, v := range m.VNA.Measurements {
			params[name] = []interface{}{real(v), imag(v)}
		}
		fields["kind"] = "vna"
		fields["point"] = m.VNA.PointNum
		fields["frequency"] = m.VNA.Frequency
		fields["dbm"] = m.VNA.DBm
		fields["us"] = m.VNA.Us
		fields["z0"] = m.VNA.Z0
		fields["measurements"] = params
	case m.SA != nil:
		params := make(map[string]interface{}, len(m.SA.Measurements))
		for name, v := range m.SA.Measurements {
			params[name] = v
		}
		fields["kind"] = "sa"
		fields["point"] = m.SA.PointNum
		fields["frequency"] = m.SA.Frequency
		fields["us"] = m.SA.Us
		fields["measurements"] = params
	default:
		return nil, fmt.Errorf("measurement from %s carries no data", m.Serial)
	}
	return structpb.NewStruct(fields)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sortedNames[V any](m map[string]V) []string {
	ret := make([]string, 0, len(m))
	for name := range m {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}
