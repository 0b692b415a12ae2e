package fcm

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Hand-written protobuf messages for the GCM checkin and MCS protocols.
// Field numbers follow Chromium's checkin.proto, android_checkin.proto and
// mcs.proto. Only the fields this client reads or writes are modelled;
// unknown fields are skipped on decode.

// rangeFields walks the fields of an encoded message. fn receives the bytes
// following each tag and returns how many it consumed; returning 0 skips
// the field.
func rangeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n = fn(num, typ, b)
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func consumeString(b []byte, dst *string) int {
	v, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

func consumeBytes(b []byte, dst *[]byte) int {
	v, n := protowire.ConsumeBytes(b)
	if n >= 0 {
		*dst = append([]byte(nil), v...)
	}
	return n
}

func consumeInt64(b []byte, dst *int64) int {
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = int64(v)
	}
	return n
}

func consumeInt32(b []byte, dst *int32) int {
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = int32(v)
	}
	return n
}

func consumeBool(b []byte, dst *bool) int {
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = protowire.DecodeBool(v)
	}
	return n
}

func consumeFixed64(b []byte, dst *uint64) int {
	v, n := protowire.ConsumeFixed64(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendFixed64(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, v)
}

// --- checkin ---

const deviceTypeAndroidOS = 1

// checkinBuild is AndroidBuildProto.
type checkinBuild struct {
	Fingerprint        string
	Hardware           string
	Brand              string
	Radio              string
	Bootloader         string
	ClientID           string
	Time               int64
	PackageVersionCode int32
	Device             string
	SDKVersion         int32
	Model              string
	Manufacturer       string
	Product            string
	OtaInstalled       bool
}

func (m *checkinBuild) marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.Fingerprint)
	b = appendString(b, 2, m.Hardware)
	b = appendString(b, 3, m.Brand)
	b = appendString(b, 4, m.Radio)
	b = appendString(b, 5, m.Bootloader)
	b = appendString(b, 6, m.ClientID)
	b = appendVarint(b, 7, uint64(m.Time))
	b = appendVarint(b, 8, uint64(m.PackageVersionCode))
	b = appendString(b, 9, m.Device)
	b = appendVarint(b, 10, uint64(m.SDKVersion))
	b = appendString(b, 11, m.Model)
	b = appendString(b, 12, m.Manufacturer)
	b = appendString(b, 13, m.Product)
	b = appendBool(b, 14, m.OtaInstalled)
	return b
}

func (m *checkinBuild) unmarshal(b []byte) error {
	return rangeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		if typ == protowire.BytesType {
			switch num {
			case 1:
				return consumeString(v, &m.Fingerprint)
			case 2:
				return consumeString(v, &m.Hardware)
			case 3:
				return consumeString(v, &m.Brand)
			case 4:
				return consumeString(v, &m.Radio)
			case 5:
				return consumeString(v, &m.Bootloader)
			case 6:
				return consumeString(v, &m.ClientID)
			case 9:
				return consumeString(v, &m.Device)
			case 11:
				return consumeString(v, &m.Model)
			case 12:
				return consumeString(v, &m.Manufacturer)
			case 13:
				return consumeString(v, &m.Product)
			}
			return 0
		}
		if typ == protowire.VarintType {
			switch num {
			case 7:
				return consumeInt64(v, &m.Time)
			case 8:
				return consumeInt32(v, &m.PackageVersionCode)
			case 10:
				return consumeInt32(v, &m.SDKVersion)
			case 14:
				return consumeBool(v, &m.OtaInstalled)
			}
		}
		return 0
	})
}

// checkinRequest is AndroidCheckinRequest with its nested AndroidCheckinProto
// flattened into Build and DeviceType.
type checkinRequest struct {
	ID               int64 // 0 on first checkin
	SecurityToken    uint64
	Build            checkinBuild
	DeviceType       int32
	Locale           string
	TimeZone         string
	Version          int32
	Fragment         int32
	UserSerialNumber int32
}

func (m *checkinRequest) marshal() []byte {
	var checkin []byte
	checkin = appendBytes(checkin, 1, m.Build.marshal())
	checkin = appendVarint(checkin, 12, uint64(m.DeviceType))

	var b []byte
	if m.ID != 0 {
		b = appendVarint(b, 2, uint64(m.ID))
	}
	b = appendBytes(b, 4, checkin)
	b = appendString(b, 6, m.Locale)
	b = appendString(b, 12, m.TimeZone)
	if m.ID != 0 {
		b = appendFixed64(b, 13, m.SecurityToken)
	}
	b = appendVarint(b, 14, uint64(m.Version))
	b = appendVarint(b, 20, uint64(m.Fragment))
	b = appendVarint(b, 22, uint64(m.UserSerialNumber))
	return b
}

func (m *checkinRequest) unmarshal(b []byte) error {
	var checkin []byte
	err := rangeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch {
		case num == 2 && typ == protowire.VarintType:
			return consumeInt64(v, &m.ID)
		case num == 4 && typ == protowire.BytesType:
			return consumeBytes(v, &checkin)
		case num == 6 && typ == protowire.BytesType:
			return consumeString(v, &m.Locale)
		case num == 12 && typ == protowire.BytesType:
			return consumeString(v, &m.TimeZone)
		case num == 13 && typ == protowire.Fixed64Type:
			return consumeFixed64(v, &m.SecurityToken)
		case num == 14 && typ == protowire.VarintType:
			return consumeInt32(v, &m.Version)
		case num == 20 && typ == protowire.VarintType:
			return consumeInt32(v, &m.Fragment)
		case num == 22 && typ == protowire.VarintType:
			return consumeInt32(v, &m.UserSerialNumber)
		}
		return 0
	})
	if err != nil {
		return err
	}
	var build []byte
	err = rangeFields(checkin, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch {
		case num == 1 && typ == protowire.BytesType:
			return consumeBytes(v, &build)
		case num == 12 && typ == protowire.VarintType:
			return consumeInt32(v, &m.DeviceType)
		}
		return 0
	})
	if err != nil {
		return err
	}
	return m.Build.unmarshal(build)
}

// checkinResponse is AndroidCheckinResponse.
type checkinResponse struct {
	StatsOK       bool
	AndroidID     uint64
	SecurityToken uint64
}

func (m *checkinResponse) marshal() []byte {
	var b []byte
	b = appendBool(b, 1, m.StatsOK)
	b = appendFixed64(b, 7, m.AndroidID)
	b = appendFixed64(b, 8, m.SecurityToken)
	return b
}

func (m *checkinResponse) unmarshal(b []byte) error {
	return rangeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			return consumeBool(v, &m.StatsOK)
		case num == 7 && typ == protowire.Fixed64Type:
			return consumeFixed64(v, &m.AndroidID)
		case num == 8 && typ == protowire.Fixed64Type:
			return consumeFixed64(v, &m.SecurityToken)
		}
		return 0
	})
}

// --- MCS ---

const authServiceAndroidID = 2

// mcsMessage is implemented by every MCS stanza.
type mcsMessage interface {
	marshal() []byte
	unmarshal([]byte) error
}

type mcsSetting struct {
	Name  string
	Value string
}

type loginRequest struct {
	ID                   string
	Domain               string
	User                 string
	Resource             string
	AuthToken            string
	DeviceID             string
	LastRmqID            int64
	Settings             []mcsSetting
	ReceivedPersistentID []string
	AdaptiveHeartbeat    bool
	UseRmq2              bool
	AccountID            int64
	AuthService          int32
	NetworkType          int32
}

func (m *loginRequest) marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.ID)
	b = appendString(b, 2, m.Domain)
	b = appendString(b, 3, m.User)
	b = appendString(b, 4, m.Resource)
	b = appendString(b, 5, m.AuthToken)
	b = appendString(b, 6, m.DeviceID)
	b = appendVarint(b, 7, uint64(m.LastRmqID))
	for _, s := range m.Settings {
		var sb []byte
		sb = appendString(sb, 1, s.Name)
		sb = appendString(sb, 2, s.Value)
		b = appendBytes(b, 8, sb)
	}
	for _, id := range m.ReceivedPersistentID {
		b = appendString(b, 10, id)
	}
	b = appendBool(b, 12, m.AdaptiveHeartbeat)
	b = appendBool(b, 14, m.UseRmq2)
	b = appendVarint(b, 15, uint64(m.AccountID))
	b = appendVarint(b, 16, uint64(m.AuthService))
	b = appendVarint(b, 17, uint64(m.NetworkType))
	return b
}

func (m *loginRequest) unmarshal(b []byte) error {
	return rangeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		if typ == protowire.BytesType {
			switch num {
			case 1:
				return consumeString(v, &m.ID)
			case 2:
				return consumeString(v, &m.Domain)
			case 3:
				return consumeString(v, &m.User)
			case 4:
				return consumeString(v, &m.Resource)
			case 5:
				return consumeString(v, &m.AuthToken)
			case 6:
				return consumeString(v, &m.DeviceID)
			case 8:
				var raw []byte
				n := consumeBytes(v, &raw)
				if n < 0 {
					return n
				}
				var s mcsSetting
				if err := rangeFields(raw, func(num protowire.Number, typ protowire.Type, v []byte) int {
					switch {
					case num == 1 && typ == protowire.BytesType:
						return consumeString(v, &s.Name)
					case num == 2 && typ == protowire.BytesType:
						return consumeString(v, &s.Value)
					}
					return 0
				}); err != nil {
					return -1
				}
				m.Settings = append(m.Settings, s)
				return n
			case 10:
				var id string
				n := consumeString(v, &id)
				if n >= 0 {
					m.ReceivedPersistentID = append(m.ReceivedPersistentID, id)
				}
				return n
			}
			return 0
		}
		if typ == protowire.VarintType {
			switch num {
			case 7:
				return consumeInt64(v, &m.LastRmqID)
			case 12:
				return consumeBool(v, &m.AdaptiveHeartbeat)
			case 14:
				return consumeBool(v, &m.UseRmq2)
			case 15:
				return consumeInt64(v, &m.AccountID)
			case 16:
				return consumeInt32(v, &m.AuthService)
			case 17:
				return consumeInt32(v, &m.NetworkType)
			}
		}
		return 0
	})
}

type loginResponse struct {
	ID              string
	ServerTimestamp int64
}

func (m *loginResponse) marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.ID)
	if m.ServerTimestamp != 0 {
		b = appendVarint(b, 8, uint64(m.ServerTimestamp))
	}
	return b
}

func (m *loginResponse) unmarshal(b []byte) error {
	return rangeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch {
		case num == 1 && typ == protowire.BytesType:
			return consumeString(v, &m.ID)
		case num == 8 && typ == protowire.VarintType:
			return consumeInt64(v, &m.ServerTimestamp)
		}
		return 0
	})
}

// heartbeat is both HeartbeatPing and HeartbeatAck; they share a layout.
type heartbeat struct {
	StreamID             int32
	LastStreamIDReceived int32
}

func (m *heartbeat) marshal() []byte {
	var b []byte
	if m.StreamID != 0 {
		b = appendVarint(b, 1, uint64(m.StreamID))
	}
	if m.LastStreamIDReceived != 0 {
		b = appendVarint(b, 2, uint64(m.LastStreamIDReceived))
	}
	return b
}

func (m *heartbeat) unmarshal(b []byte) error {
	return rangeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			return consumeInt32(v, &m.StreamID)
		case num == 2 && typ == protowire.VarintType:
			return consumeInt32(v, &m.LastStreamIDReceived)
		}
		return 0
	})
}

// closeStanza carries no fields.
type closeStanza struct{}

func (closeStanza) marshal() []byte        { return nil }
func (closeStanza) unmarshal([]byte) error { return nil }

type appData struct {
	Key   string
	Value string
}

type dataMessageStanza struct {
	ID           string
	From         string
	To           string
	Category     string
	Token        string
	AppData      []appData
	PersistentID string
	Sent         int64
	TTL          int32
	RawData      []byte
}

func (m *dataMessageStanza) marshal() []byte {
	var b []byte
	if m.ID != "" {
		b = appendString(b, 1, m.ID)
	}
	b = appendString(b, 2, m.From)
	if m.To != "" {
		b = appendString(b, 3, m.To)
	}
	b = appendString(b, 4, m.Category)
	if m.Token != "" {
		b = appendString(b, 5, m.Token)
	}
	for _, kv := range m.AppData {
		var kb []byte
		kb = appendString(kb, 1, kv.Key)
		kb = appendString(kb, 2, kv.Value)
		b = appendBytes(b, 7, kb)
	}
	if m.PersistentID != "" {
		b = appendString(b, 9, m.PersistentID)
	}
	if m.TTL != 0 {
		b = appendVarint(b, 17, uint64(m.TTL))
	}
	if m.Sent != 0 {
		b = appendVarint(b, 18, uint64(m.Sent))
	}
	if len(m.RawData) > 0 {
		b = appendBytes(b, 21, m.RawData)
	}
	return b
}

func (m *dataMessageStanza) unmarshal(b []byte) error {
	return rangeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		if typ == protowire.BytesType {
			switch num {
			case 1:
				return consumeString(v, &m.ID)
			case 2:
				return consumeString(v, &m.From)
			case 3:
				return consumeString(v, &m.To)
			case 4:
				return consumeString(v, &m.Category)
			case 5:
				return consumeString(v, &m.Token)
			case 7:
				var raw []byte
				n := consumeBytes(v, &raw)
				if n < 0 {
					return n
				}
				var kv appData
				if err := rangeFields(raw, func(num protowire.Number, typ protowire.Type, v []byte) int {
					switch {
					case num == 1 && typ == protowire.BytesType:
						return consumeString(v, &kv.Key)
					case num == 2 && typ == protowire.BytesType:
						return consumeString(v, &kv.Value)
					}
					return 0
				}); err != nil {
					return -1
				}
				m.AppData = append(m.AppData, kv)
				return n
			case 9:
				return consumeString(v, &m.PersistentID)
			case 21:
				return consumeBytes(v, &m.RawData)
			}
			return 0
		}
		if typ == protowire.VarintType {
			switch num {
			case 17:
				return consumeInt32(v, &m.TTL)
			case 18:
				return consumeInt64(v, &m.Sent)
			}
		}
		return 0
	})
}

type iqStanza struct {
	Type int32 // GET=0 SET=1 RESULT=2 IQ_ERROR=3
	ID   string
	From string
	To   string
}

func (m *iqStanza) marshal() []byte {
	var b []byte
	b = appendVarint(b, 2, uint64(m.Type))
	b = appendString(b, 3, m.ID)
	if m.From != "" {
		b = appendString(b, 4, m.From)
	}
	if m.To != "" {
		b = appendString(b, 5, m.To)
	}
	return b
}

func (m *iqStanza) unmarshal(b []byte) error {
	return rangeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch {
		case num == 2 && typ == protowire.VarintType:
			return consumeInt32(v, &m.Type)
		case num == 3 && typ == protowire.BytesType:
			return consumeString(v, &m.ID)
		case num == 4 && typ == protowire.BytesType:
			return consumeString(v, &m.From)
		case num == 5 && typ == protowire.BytesType:
			return consumeString(v, &m.To)
		}
		return 0
	})
}

type streamErrorStanza struct {
	Type string
	Text string
}

func (m *streamErrorStanza) marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.Type)
	if m.Text != "" {
		b = appendString(b, 2, m.Text)
	}
	return b
}

func (m *streamErrorStanza) unmarshal(b []byte) error {
	return rangeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch {
		case num == 1 && typ == protowire.BytesType:
			return consumeString(v, &m.Type)
		case num == 2 && typ == protowire.BytesType:
			return consumeString(v, &m.Text)
		}
		return 0
	})
}
