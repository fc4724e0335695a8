package clustersync

import "encoding/json"

// WriteProperties is the opaque descriptor of an in-flight write recorded on
// a WorkingCopyVersion row by willWrite. The source system models this as a
// free-form mapping; here the known fields are typed and everything else
// round-trips untouched through Extra.
type WriteProperties struct {
	UserID              string
	EpochSeconds        int64
	OriginatingDeviceID DeviceID
	Extra               map[string]json.RawMessage
}

// MarshalJSON emits the known fields alongside any extra fields captured
// from a prior round-trip, so fields this implementation doesn't know about
// survive a read-modify-write cycle unchanged.
func (p WriteProperties) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(p.Extra)+3)
	for k, v := range p.Extra {
		out[k] = v
	}
	userID, err := json.Marshal(p.UserID)
	if err != nil {
		return nil, err
	}
	epoch, err := json.Marshal(p.EpochSeconds)
	if err != nil {
		return nil, err
	}
	deviceID, err := json.Marshal(p.OriginatingDeviceID)
	if err != nil {
		return nil, err
	}
	out["userId"] = userID
	out["epoch"] = epoch
	out["deviceId"] = deviceID
	return json.Marshal(out)
}

// UnmarshalJSON parses the known fields and keeps everything else in Extra.
func (p *WriteProperties) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["userId"]; ok {
		if err := json.Unmarshal(v, &p.UserID); err != nil {
			return err
		}
		delete(raw, "userId")
	}
	if v, ok := raw["epoch"]; ok {
		if err := json.Unmarshal(v, &p.EpochSeconds); err != nil {
			return err
		}
		delete(raw, "epoch")
	}
	if v, ok := raw["deviceId"]; ok {
		if err := json.Unmarshal(v, &p.OriginatingDeviceID); err != nil {
			return err
		}
		delete(raw, "deviceId")
	}
	if len(raw) > 0 {
		p.Extra = raw
	}
	return nil
}
