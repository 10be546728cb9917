package idl

// Avro schemas for the header, packet and signature records defined in the
// batch data model. Headers and SumPart are single-record files; the packet
// schemas describe the records of an Avro object container (one record per
// client contribution, or per rejected UUID).

const IngestionHeaderSchema = `{
	"type": "record",
	"name": "IngestionHeader",
	"fields": [
		{"name": "batch_uuid", "type": "string"},
		{"name": "name", "type": "string"},
		{"name": "bins", "type": "int"},
		{"name": "epsilon", "type": "double"},
		{"name": "prime", "type": "long"},
		{"name": "number_of_servers", "type": "int"},
		{"name": "hamming_weight", "type": ["null", "int"], "default": null},
		{"name": "batch_start_time", "type": "long"},
		{"name": "batch_end_time", "type": "long"},
		{"name": "packet_file_digest", "type": "bytes"}
	]
}`

const ValidationHeaderSchema = `{
	"type": "record",
	"name": "ValidationHeader",
	"fields": [
		{"name": "batch_uuid", "type": "string"},
		{"name": "name", "type": "string"},
		{"name": "bins", "type": "int"},
		{"name": "prime", "type": "long"},
		{"name": "number_of_servers", "type": "int"},
		{"name": "hamming_weight", "type": ["null", "int"], "default": null},
		{"name": "batch_start_time", "type": "long"},
		{"name": "batch_end_time", "type": "long"},
		{"name": "packet_file_digest", "type": "bytes"}
	]
}`

const SumPartSchema = `{
	"type": "record",
	"name": "SumPart",
	"fields": [
		{"name": "batch_uuids", "type": {"type": "array", "items": "string"}},
		{"name": "name", "type": "string"},
		{"name": "bins", "type": "int"},
		{"name": "epsilon", "type": "double"},
		{"name": "prime", "type": "long"},
		{"name": "number_of_servers", "type": "int"},
		{"name": "hamming_weight", "type": ["null", "int"], "default": null},
		{"name": "sum", "type": {"type": "array", "items": "long"}},
		{"name": "aggregation_start_time", "type": "long"},
		{"name": "aggregation_end_time", "type": "long"},
		{"name": "packet_file_digest", "type": "bytes"},
		{"name": "total_individual_clients", "type": "long"}
	]
}`

const IngestionDataSharePacketSchema = `{
	"type": "record",
	"name": "IngestionDataSharePacket",
	"fields": [
		{"name": "uuid", "type": "string"},
		{"name": "encrypted_payload", "type": "bytes"},
		{"name": "encryption_key_id", "type": ["null", "string"], "default": null},
		{"name": "r_pit", "type": "long"},
		{"name": "version_configuration", "type": ["null", "string"], "default": null},
		{"name": "device_nonce", "type": ["null", "bytes"], "default": null}
	]
}`

const ValidationPacketSchema = `{
	"type": "record",
	"name": "ValidationPacket",
	"fields": [
		{"name": "uuid", "type": "string"},
		{"name": "f_r", "type": "long"},
		{"name": "g_r", "type": "long"},
		{"name": "h_r", "type": "long"}
	]
}`

const InvalidPacketSchema = `{
	"type": "record",
	"name": "InvalidPacket",
	"fields": [
		{"name": "uuid", "type": "string"}
	]
}`

// SignatureSchema is the detached-signature envelope record written
// alongside every header.
const SignatureSchema = `{
	"type": "record",
	"name": "PrioBatchSignature",
	"fields": [
		{"name": "batch_header_signature", "type": "bytes"},
		{"name": "key_identifier", "type": "string"}
	]
}`
