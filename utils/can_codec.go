package utils

import (
	"github.com/pkg/errors"
	"go.einride.tech/can"
)

// EncodeFrame builds the named frame from physical signal values. Signals
// missing from values take their default.
func (m *CANMap) EncodeFrame(frameName string, values map[string]float64) (can.Frame, error) {
	fd, err := m.FrameByName(frameName)
	if err != nil {
		return can.Frame{}, err
	}
	if fd.DLC <= 0 || fd.DLC > 8 {
		return can.Frame{}, errors.Errorf("frame %s has invalid DLC %d", fd.Name, fd.DLC)
	}

	var payload uint64
	for _, s := range fd.Signals {
		v, ok := values[s.Name]
		if !ok {
			v = s.Default
		}
		payload = s.pack(payload, v)
	}

	f := can.Frame{ID: fd.ID, Length: uint8(fd.DLC)}
	f.Data.UnpackLittleEndian(payload)
	return f, nil
}

// DecodeFrame returns the physical value of every signal in a received frame.
func (m *CANMap) DecodeFrame(frame can.Frame) (map[string]float64, error) {
	fd, err := m.FrameByID(frame.ID)
	if err != nil {
		return nil, err
	}
	if int(frame.Length) < fd.DLC {
		return nil, errors.Errorf("frame 0x%X expects DLC %d, got %d", frame.ID, fd.DLC, frame.Length)
	}

	payload := frame.Data.PackLittleEndian()
	out := make(map[string]float64, len(fd.Signals))
	for _, s := range fd.Signals {
		out[s.Name] = s.unpack(payload)
	}
	return out, nil
}
