package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"wazoopass/passes/store"
)

// Header is the column order shared by every export format.
var Header = []string{"identity", "display_name", "role", "pass_id", "twitter_link", "wallet"}

// WriteCSV writes submissions as flat CSV records preceded by Header.
func WriteCSV(w io.Writer, submissions []store.Submission) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, sub := range submissions {
		record := []string{
			sub.Identity,
			sub.DisplayName,
			sub.Role,
			strconv.FormatUint(sub.PassID, 10),
			sub.TwitterLink,
			sub.Wallet,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv record %s: %w", sub.Identity, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

type parquetRow struct {
	Identity    string `parquet:"name=identity, type=UTF8, encoding=PLAIN_DICTIONARY"`
	DisplayName string `parquet:"name=display_name, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Role        string `parquet:"name=role, type=UTF8, encoding=PLAIN_DICTIONARY"`
	PassID      int64  `parquet:"name=pass_id, type=INT64"`
	TwitterLink string `parquet:"name=twitter_link, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Wallet      string `parquet:"name=wallet, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

// WriteParquet writes submissions as a snappy-compressed parquet file.
func WriteParquet(w io.Writer, submissions []store.Submission) error {
	file := writerfile.NewWriterFile(w)
	pw, err := writer.NewParquetWriter(file, new(parquetRow), 1)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, sub := range submissions {
		row := &parquetRow{
			Identity:    sub.Identity,
			DisplayName: sub.DisplayName,
			Role:        sub.Role,
			PassID:      int64(sub.PassID),
			TwitterLink: sub.TwitterLink,
			Wallet:      sub.Wallet,
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("write parquet row %s: %w", sub.Identity, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalise parquet: %w", err)
	}
	return nil
}
