package classify

import (
	"fmt"
	"math"

	"github.com/enersight/peakd/internal/domain/mark"
	"google.golang.org/protobuf/encoding/protowire"
)

// Wire format of the classification service. The message shapes are an
// external contract and must not change:
//
//	ClassifyRequest  { repeated Peak peaks = 1 }
//	Peak             { string id = 1; repeated Sample samples = 2 }
//	Sample           { int64 timestamp_ms = 1; double power = 2 }
//
//	ClassifyResponse { repeated Result results = 1 }
//	Result           { string id = 1; repeated Device devices = 2 }
//	Device           { string name = 1; double confidence = 2 }
//
// The messages are small and flat, so they are framed by hand with
// protowire rather than generated code.
const (
	fieldPeaks   = 1
	fieldID      = 1
	fieldSamples = 2
	fieldTS      = 1
	fieldPower   = 2

	fieldResults    = 1
	fieldDevices    = 2
	fieldName       = 1
	fieldConfidence = 2
)

// encodeRequest frames a batch of peaks as a ClassifyRequest.
func encodeRequest(peaks []mark.PeakSeries) []byte {
	var out []byte
	for _, p := range peaks {
		var peak []byte
		peak = protowire.AppendTag(peak, fieldID, protowire.BytesType)
		peak = protowire.AppendString(peak, p.PeakID)
		for _, s := range p.Samples {
			var sample []byte
			sample = protowire.AppendTag(sample, fieldTS, protowire.VarintType)
			sample = protowire.AppendVarint(sample, uint64(s.TS.UnixMilli()))
			sample = protowire.AppendTag(sample, fieldPower, protowire.Fixed64Type)
			sample = protowire.AppendFixed64(sample, math.Float64bits(s.Value))

			peak = protowire.AppendTag(peak, fieldSamples, protowire.BytesType)
			peak = protowire.AppendBytes(peak, sample)
		}
		out = protowire.AppendTag(out, fieldPeaks, protowire.BytesType)
		out = protowire.AppendBytes(out, peak)
	}
	return out
}

// decodeResponse parses a ClassifyResponse stream.
func decodeResponse(data []byte) ([]mark.Attribution, error) {
	var results []mark.Attribution
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("classify response: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if num != fieldResults || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("classify response: %w", protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		msg, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("classify response result: %w", protowire.ParseError(n))
		}
		data = data[n:]

		res, err := decodeResult(msg)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func decodeResult(data []byte) (mark.Attribution, error) {
	var res mark.Attribution
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return res, fmt.Errorf("classify result: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldID && typ == protowire.BytesType:
			id, n := protowire.ConsumeString(data)
			if n < 0 {
				return res, fmt.Errorf("classify result id: %w", protowire.ParseError(n))
			}
			res.PeakID = id
			data = data[n:]
		case num == fieldDevices && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return res, fmt.Errorf("classify result device: %w", protowire.ParseError(n))
			}
			data = data[n:]
			dev, err := decodeDevice(msg)
			if err != nil {
				return res, err
			}
			res.Devices = append(res.Devices, dev)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return res, fmt.Errorf("classify result: %w", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return res, nil
}

func decodeDevice(data []byte) (mark.Suggestion, error) {
	var dev mark.Suggestion
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return dev, fmt.Errorf("classify device: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldName && typ == protowire.BytesType:
			name, n := protowire.ConsumeString(data)
			if n < 0 {
				return dev, fmt.Errorf("classify device name: %w", protowire.ParseError(n))
			}
			dev.Label = name
			data = data[n:]
		case num == fieldConfidence && typ == protowire.Fixed64Type:
			bits, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return dev, fmt.Errorf("classify device confidence: %w", protowire.ParseError(n))
			}
			dev.Confidence = math.Float64frombits(bits)
			data = data[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return dev, fmt.Errorf("classify device: %w", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return dev, nil
}
