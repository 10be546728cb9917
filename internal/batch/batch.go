// Package batch names the three storage objects (header, packet file,
// detached signature) that make up one signed batch, for each of the batch
// kinds the facilitator reads or writes.
package batch

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// dateFormat mirrors the facilitator's on-disk path convention:
// YYYY/mm/dd/HH/MM, matching the original implementation's DATE_FORMAT.
const dateFormat = "2006/01/02/15/04"

// Kind identifies which of the three batch triples a Locator addresses.
type Kind int

const (
	Ingestion Kind = iota
	ValidationFirst
	ValidationSecond
	Sum
)

func (k Kind) String() string {
	switch k {
	case Ingestion:
		return "ingestion"
	case ValidationFirst:
		return "validation (first)"
	case ValidationSecond:
		return "validation (second)"
	case Sum:
		return "sum"
	default:
		return "unknown"
	}
}

// Locator names the triple of objects for one batch: <prefix>.batch,
// <prefix>.batch.avro and <prefix>.batch.sig.
type Locator struct {
	AggregationName  string
	BatchID          uuid.UUID
	BatchDate        time.Time
	Kind             Kind
	AggregationStart time.Time
	AggregationEnd   time.Time
}

// NewIngestion locates an ingestion batch.
func NewIngestion(aggregationName string, batchID uuid.UUID, batchDate time.Time) Locator {
	return Locator{AggregationName: aggregationName, BatchID: batchID, BatchDate: batchDate, Kind: Ingestion}
}

// NewValidation locates a validation batch. isFirst selects whether this is
// the PHA's (first) or facilitator's (second) validation share.
func NewValidation(aggregationName string, batchID uuid.UUID, batchDate time.Time, isFirst bool) Locator {
	k := ValidationSecond
	if isFirst {
		k = ValidationFirst
	}
	return Locator{AggregationName: aggregationName, BatchID: batchID, BatchDate: batchDate, Kind: k}
}

// NewSum locates a sum-part batch for an aggregation window.
func NewSum(aggregationName string, aggregationStart, aggregationEnd time.Time) Locator {
	return Locator{
		AggregationName:  aggregationName,
		Kind:             Sum,
		AggregationStart: aggregationStart,
		AggregationEnd:   aggregationEnd,
	}
}

// prefix is the common key prefix the three objects in this batch's triple
// share, before the .batch/.batch.avro/.batch.sig suffix.
func (l Locator) prefix() string {
	switch l.Kind {
	case Ingestion:
		return fmt.Sprintf("%s/%s/%s", l.AggregationName, l.BatchDate.UTC().Format(dateFormat), l.BatchID)
	case ValidationFirst:
		return fmt.Sprintf("%s/%s/%s.validity_0", l.AggregationName, l.BatchDate.UTC().Format(dateFormat), l.BatchID)
	case ValidationSecond:
		return fmt.Sprintf("%s/%s/%s.validity_1", l.AggregationName, l.BatchDate.UTC().Format(dateFormat), l.BatchID)
	case Sum:
		return fmt.Sprintf("%s/%d-%d/sum", l.AggregationName, l.AggregationStart.UTC().UnixMilli(), l.AggregationEnd.UTC().UnixMilli())
	default:
		return fmt.Sprintf("%s/unknown", l.AggregationName)
	}
}

// HeaderKey is the object name of the batch header.
func (l Locator) HeaderKey() string { return l.prefix() + ".batch" }

// PacketKey is the object name of the Avro packet file.
func (l Locator) PacketKey() string { return l.prefix() + ".batch.avro" }

// SignatureKey is the object name of the detached signature over the header.
func (l Locator) SignatureKey() string { return l.prefix() + ".batch.sig" }
