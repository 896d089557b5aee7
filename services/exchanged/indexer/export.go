package indexer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"
)

const exportBatchSize = 1000

type parquetRow struct {
	Seq          int64  `parquet:"name=seq, type=INT64"`
	EventID      string `parquet:"name=event_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type         string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Trader       string `parquet:"name=trader, type=BYTE_ARRAY, convertedtype=UTF8"`
	Counterparty string `parquet:"name=counterparty, type=BYTE_ARRAY, convertedtype=UTF8"`
	OfferHash    string `parquet:"name=offer_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	RelatedHash  string `parquet:"name=related_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	OfferID      int64  `parquet:"name=offer_id, type=INT64"`
	Amount       string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes   string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt    string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet writes every record matching f, oldest first, to a snappy
// compressed parquet file at path. Before and Limit are ignored. It returns
// the number of rows written.
func (i *Indexer) ExportParquet(ctx context.Context, path string, f Filter) (int, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("indexer: create parquet: %w", err)
	}
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(file), new(parquetRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("indexer: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	written := 0
	var batch []Activity
	result := f.apply(i.db.WithContext(ctx).Model(&Activity{})).Order("id ASC").
		FindInBatches(&batch, exportBatchSize, func(tx *gorm.DB, _ int) error {
			for _, rec := range batch {
				if err := pw.Write(toParquetRow(rec)); err != nil {
					return err
				}
				written++
			}
			return nil
		})
	if result.Error != nil {
		_ = pw.WriteStop()
		file.Close()
		return 0, fmt.Errorf("indexer: parquet write: %w", result.Error)
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return 0, fmt.Errorf("indexer: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("indexer: close parquet file: %w", err)
	}
	return written, nil
}

func toParquetRow(rec Activity) *parquetRow {
	return &parquetRow{
		Seq:          int64(rec.ID),
		EventID:      rec.EventID.String(),
		Type:         rec.Type,
		Trader:       rec.Trader,
		Counterparty: rec.Counterparty,
		OfferHash:    rec.OfferHash,
		RelatedHash:  rec.RelatedHash,
		OfferID:      int64(rec.OfferID),
		Amount:       rec.Amount,
		Attributes:   rec.Attributes,
		CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
