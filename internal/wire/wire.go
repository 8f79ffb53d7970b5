// Package wire encodes k-mer and result batches in the protobuf wire format so
// they can travel over NATS or AMQP.
//
//	message KMerBatch {
//	  uint32 file_id = 1;
//	  repeated fixed64 kmers = 2 [packed = true];
//	}
//
//	message KMerCount {
//	  fixed64 kmer = 1;
//	  uint32 count = 2;
//	}
//
//	message ResultBatch {
//	  uint32 device_id = 1;
//	  uint32 file_id = 2;
//	  uint32 seq = 3;
//	  bool final = 4;
//	  repeated KMerCount entries = 5;
//	}
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"GoKmerSpectra/internal/model"
)

const (
	batchFileID protowire.Number = 1
	batchKMers  protowire.Number = 2

	countKMer  protowire.Number = 1
	countCount protowire.Number = 2

	resultDevice  protowire.Number = 1
	resultFileID  protowire.Number = 2
	resultSeq     protowire.Number = 3
	resultFinal   protowire.Number = 4
	resultEntries protowire.Number = 5
)

// MarshalKMerBatch encodes a k-mer batch.
func MarshalKMerBatch(b *model.KMerBatch) []byte {
	buf := make([]byte, 0, 16+8*len(b.KMers))
	buf = protowire.AppendTag(buf, batchFileID, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(b.FileID))
	if len(b.KMers) > 0 {
		buf = protowire.AppendTag(buf, batchKMers, protowire.BytesType)
		buf = protowire.AppendVarint(buf, uint64(8*len(b.KMers)))
		for _, km := range b.KMers {
			buf = protowire.AppendFixed64(buf, uint64(km))
		}
	}
	return buf
}

// UnmarshalKMerBatch decodes a k-mer batch. Unknown fields are skipped.
func UnmarshalKMerBatch(data []byte) (*model.KMerBatch, error) {
	batch := &model.KMerBatch{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("kmer batch: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == batchFileID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("kmer batch file id: %w", protowire.ParseError(n))
			}
			batch.FileID = model.FileID(v)
			data = data[n:]
		case num == batchKMers && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("kmer batch kmers: %w", protowire.ParseError(n))
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed64(packed)
				if m < 0 {
					return nil, fmt.Errorf("kmer batch kmer: %w", protowire.ParseError(m))
				}
				batch.KMers = append(batch.KMers, model.KMer(v))
				packed = packed[m:]
			}
			data = data[n:]
		case num == batchKMers && typ == protowire.Fixed64Type:
			// unpacked encoding
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return nil, fmt.Errorf("kmer batch kmer: %w", protowire.ParseError(n))
			}
			batch.KMers = append(batch.KMers, model.KMer(v))
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("kmer batch field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return batch, nil
}

// MarshalResultBatch encodes a result batch.
func MarshalResultBatch(r *model.ResultBatch) []byte {
	buf := make([]byte, 0, 16+14*len(r.Entries))
	buf = protowire.AppendTag(buf, resultDevice, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.DeviceID))
	buf = protowire.AppendTag(buf, resultFileID, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.FileID))
	buf = protowire.AppendTag(buf, resultSeq, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.Seq))
	if r.Final {
		buf = protowire.AppendTag(buf, resultFinal, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeBool(true))
	}

	var entry []byte
	for _, e := range r.Entries {
		entry = entry[:0]
		entry = protowire.AppendTag(entry, countKMer, protowire.Fixed64Type)
		entry = protowire.AppendFixed64(entry, uint64(e.KMer))
		entry = protowire.AppendTag(entry, countCount, protowire.VarintType)
		entry = protowire.AppendVarint(entry, uint64(e.Count))

		buf = protowire.AppendTag(buf, resultEntries, protowire.BytesType)
		buf = protowire.AppendBytes(buf, entry)
	}
	return buf
}

// UnmarshalResultBatch decodes a result batch. Unknown fields are skipped.
func UnmarshalResultBatch(data []byte) (*model.ResultBatch, error) {
	r := &model.ResultBatch{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("result batch: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if typ == protowire.VarintType && num >= resultDevice && num <= resultFinal {
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("result batch field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case resultDevice:
				r.DeviceID = int(v)
			case resultFileID:
				r.FileID = model.FileID(v)
			case resultSeq:
				r.Seq = uint32(v)
			case resultFinal:
				r.Final = protowire.DecodeBool(v)
			}
			continue
		}

		if num == resultEntries && typ == protowire.BytesType {
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("result batch entry: %w", protowire.ParseError(n))
			}
			e, err := unmarshalKMerCount(raw)
			if err != nil {
				return nil, err
			}
			r.Entries = append(r.Entries, e)
			data = data[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("result batch field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return r, nil
}

func unmarshalKMerCount(data []byte) (model.KMerCount, error) {
	var e model.KMerCount
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return e, fmt.Errorf("kmer count: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == countKMer && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return e, fmt.Errorf("kmer count kmer: %w", protowire.ParseError(n))
			}
			e.KMer = model.KMer(v)
			data = data[n:]
		case num == countCount && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, fmt.Errorf("kmer count count: %w", protowire.ParseError(n))
			}
			e.Count = uint32(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return e, fmt.Errorf("kmer count field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return e, nil
}
