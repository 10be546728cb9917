// Package idl holds the wire types of the batch data model (§3 of the
// facilitator spec) together with their Avro native-representation
// conversions, used by the envelope, intake and aggregation packages.
package idl

import (
	"github.com/google/uuid"

	"github.com/letsencrypt/prio-facilitator/internal/codec"
)

// IngestionHeader describes one ingestion batch.
type IngestionHeader struct {
	BatchUUID        uuid.UUID
	Name             string
	Bins             int32
	Epsilon          float64
	Prime            int64
	NumberOfServers  int32
	HammingWeight    *int32
	BatchStartTime   int64
	BatchEndTime     int64
	PacketFileDigest []byte
}

// CheckParameters reports whether h and other agree on every field the
// aggregator's per-batch cross-header consistency check covers (bins,
// prime, number of servers, hamming weight and name).
func (h IngestionHeader) CheckParameters(other ValidationHeader) bool {
	return h.Bins == other.Bins &&
		h.Prime == other.Prime &&
		h.NumberOfServers == other.NumberOfServers &&
		optIntEqual(h.HammingWeight, other.HammingWeight) &&
		h.Name == other.Name
}

func (h IngestionHeader) ToNative() map[string]interface{} {
	return map[string]interface{}{
		"batch_uuid":         h.BatchUUID.String(),
		"name":               h.Name,
		"bins":               h.Bins,
		"epsilon":            h.Epsilon,
		"prime":              h.Prime,
		"number_of_servers":  h.NumberOfServers,
		"hamming_weight":     codec.OptInt(h.HammingWeight),
		"batch_start_time":   h.BatchStartTime,
		"batch_end_time":     h.BatchEndTime,
		"packet_file_digest": h.PacketFileDigest,
	}
}

// IngestionHeaderFromNative builds an IngestionHeader from a decoded Avro
// record.
func IngestionHeaderFromNative(native map[string]interface{}) (IngestionHeader, error) {
	id, err := uuid.Parse(native["batch_uuid"].(string))
	if err != nil {
		return IngestionHeader{}, err
	}
	return IngestionHeader{
		BatchUUID:        id,
		Name:             native["name"].(string),
		Bins:             native["bins"].(int32),
		Epsilon:          native["epsilon"].(float64),
		Prime:            native["prime"].(int64),
		NumberOfServers:  native["number_of_servers"].(int32),
		HammingWeight:    codec.UnwrapOptInt(native["hamming_weight"]),
		BatchStartTime:   native["batch_start_time"].(int64),
		BatchEndTime:     native["batch_end_time"].(int64),
		PacketFileDigest: native["packet_file_digest"].([]byte),
	}, nil
}

// ValidationHeader describes one validation batch (own or peer).
type ValidationHeader struct {
	BatchUUID        uuid.UUID
	Name             string
	Bins             int32
	Prime            int64
	NumberOfServers  int32
	HammingWeight    *int32
	BatchStartTime   int64
	BatchEndTime     int64
	PacketFileDigest []byte
}

// CheckParameters reports whether h and other agree on every field the two
// validation headers for a batch must share.
func (h ValidationHeader) CheckParameters(other ValidationHeader) bool {
	return h.Bins == other.Bins &&
		h.Prime == other.Prime &&
		h.NumberOfServers == other.NumberOfServers &&
		optIntEqual(h.HammingWeight, other.HammingWeight) &&
		h.Name == other.Name
}

func (h ValidationHeader) ToNative() map[string]interface{} {
	return map[string]interface{}{
		"batch_uuid":         h.BatchUUID.String(),
		"name":               h.Name,
		"bins":               h.Bins,
		"prime":              h.Prime,
		"number_of_servers":  h.NumberOfServers,
		"hamming_weight":     codec.OptInt(h.HammingWeight),
		"batch_start_time":   h.BatchStartTime,
		"batch_end_time":     h.BatchEndTime,
		"packet_file_digest": h.PacketFileDigest,
	}
}

// ValidationHeaderFromNative builds a ValidationHeader from a decoded Avro
// record.
func ValidationHeaderFromNative(native map[string]interface{}) (ValidationHeader, error) {
	id, err := uuid.Parse(native["batch_uuid"].(string))
	if err != nil {
		return ValidationHeader{}, err
	}
	return ValidationHeader{
		BatchUUID:        id,
		Name:             native["name"].(string),
		Bins:             native["bins"].(int32),
		Prime:            native["prime"].(int64),
		NumberOfServers:  native["number_of_servers"].(int32),
		HammingWeight:    codec.UnwrapOptInt(native["hamming_weight"]),
		BatchStartTime:   native["batch_start_time"].(int64),
		BatchEndTime:     native["batch_end_time"].(int64),
		PacketFileDigest: native["packet_file_digest"].([]byte),
	}, nil
}

// SumPart describes one server's contribution to a final aggregate.
type SumPart struct {
	BatchUUIDs              []uuid.UUID
	Name                    string
	Bins                    int32
	Epsilon                 float64
	Prime                   int64
	NumberOfServers         int32
	HammingWeight           *int32
	Sum                     []int64
	AggregationStartTime    int64
	AggregationEndTime      int64
	PacketFileDigest        []byte
	TotalIndividualClients  int64
}

func (s SumPart) ToNative() map[string]interface{} {
	uuids := make([]string, len(s.BatchUUIDs))
	for i, id := range s.BatchUUIDs {
		uuids[i] = id.String()
	}
	return map[string]interface{}{
		"batch_uuids":              codec.StringArray(uuids),
		"name":                     s.Name,
		"bins":                     s.Bins,
		"epsilon":                  s.Epsilon,
		"prime":                    s.Prime,
		"number_of_servers":        s.NumberOfServers,
		"hamming_weight":           codec.OptInt(s.HammingWeight),
		"sum":                      codec.Int64Array(s.Sum),
		"aggregation_start_time":   s.AggregationStartTime,
		"aggregation_end_time":     s.AggregationEndTime,
		"packet_file_digest":       s.PacketFileDigest,
		"total_individual_clients": s.TotalIndividualClients,
	}
}

// IngestionDataSharePacket is one client's encrypted Prio share.
type IngestionDataSharePacket struct {
	UUID                 uuid.UUID
	EncryptedPayload     []byte
	EncryptionKeyID      *string
	RPit                 int64
	VersionConfiguration *string
	DeviceNonce          []byte
}

func (p IngestionDataSharePacket) ToNative() map[string]interface{} {
	return map[string]interface{}{
		"uuid":                  p.UUID.String(),
		"encrypted_payload":     p.EncryptedPayload,
		"encryption_key_id":     codec.OptString(p.EncryptionKeyID),
		"r_pit":                 p.RPit,
		"version_configuration": codec.OptString(p.VersionConfiguration),
		"device_nonce":          codec.OptBytes(p.DeviceNonce),
	}
}

// IngestionDataSharePacketFromNative builds a packet from a decoded Avro
// record.
func IngestionDataSharePacketFromNative(native map[string]interface{}) (IngestionDataSharePacket, error) {
	id, err := uuid.Parse(native["uuid"].(string))
	if err != nil {
		return IngestionDataSharePacket{}, err
	}
	return IngestionDataSharePacket{
		UUID:                 id,
		EncryptedPayload:     native["encrypted_payload"].([]byte),
		EncryptionKeyID:      codec.UnwrapOptString(native["encryption_key_id"]),
		RPit:                 native["r_pit"].(int64),
		VersionConfiguration: codec.UnwrapOptString(native["version_configuration"]),
		DeviceNonce:          codec.UnwrapOptBytes(native["device_nonce"]),
	}, nil
}

// ValidationPacket is a Prio short verification triple for one contribution.
type ValidationPacket struct {
	UUID uuid.UUID
	FR   int64
	GR   int64
	HR   int64
}

func (p ValidationPacket) ToNative() map[string]interface{} {
	return map[string]interface{}{
		"uuid": p.UUID.String(),
		"f_r":  p.FR,
		"g_r":  p.GR,
		"h_r":  p.HR,
	}
}

// ValidationPacketFromNative builds a packet from a decoded Avro record.
func ValidationPacketFromNative(native map[string]interface{}) (ValidationPacket, error) {
	id, err := uuid.Parse(native["uuid"].(string))
	if err != nil {
		return ValidationPacket{}, err
	}
	return ValidationPacket{
		UUID: id,
		FR:   native["f_r"].(int64),
		GR:   native["g_r"].(int64),
		HR:   native["h_r"].(int64),
	}, nil
}

// InvalidPacket names a rejected contribution.
type InvalidPacket struct {
	UUID uuid.UUID
}

func (p InvalidPacket) ToNative() map[string]interface{} {
	return map[string]interface{}{"uuid": p.UUID.String()}
}

func optIntEqual(a, b *int32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
