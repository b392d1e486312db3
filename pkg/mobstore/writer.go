// SPDX-License-Identifier: AGPL-3.0-only

package mobstore

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"strconv"

	"github.com/golang/snappy"
	"github.com/oklog/ulid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/mobstore/mobcompactor/pkg/mob"
)

// fileFooterVersion numbers the on-disk layout: [1 byte compressed
// flag][4 byte body length][body][trailer json][4 byte trailer length].
// The version itself is not written into the file.
const fileFooterVersion = 1

type fileWriter struct {
	fs          afero.Fs
	path        string
	buf         bytes.Buffer
	compression string
	fileInfo    map[string]string
	closed      bool
}

func newFileWriter(fs afero.Fs, dir, name, compression string) *fileWriter {
	return &fileWriter{
		fs:          fs,
		path:        filepath.Join(dir, name),
		compression: compression,
		fileInfo:    map[string]string{},
	}
}

func (w *fileWriter) Path() string { return w.path }

func (w *fileWriter) append(c mob.Cell) error {
	if w.closed {
		return errors.Errorf("append to closed writer %s", w.path)
	}
	return encodeCell(&w.buf, c)
}

func (w *fileWriter) appendFileInfo(key string, value []byte) error {
	w.fileInfo[key] = string(value)
	return nil
}

func (w *fileWriter) close(trailer map[string]string) error {
	if w.closed {
		return nil
	}
	w.closed = true

	for k, v := range w.fileInfo {
		if _, ok := trailer[k]; !ok {
			trailer[k] = v
		}
	}

	body := w.buf.Bytes()
	compressed := w.compression == "snappy"
	if compressed {
		body = snappy.Encode(nil, body)
	}

	trailerBytes, err := marshalTrailer(trailer)
	if err != nil {
		return err
	}

	f, err := w.fs.Create(w.path)
	if err != nil {
		return errors.Wrapf(err, "create %s", w.path)
	}

	var flag byte
	if compressed {
		flag = 1
	}
	if _, err := f.Write([]byte{flag}); err != nil {
		_ = f.Close()
		return err
	}
	if err := binary.Write(f, binary.BigEndian, uint32(len(body))); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(trailerBytes); err != nil {
		_ = f.Close()
		return err
	}
	if err := binary.Write(f, binary.BigEndian, uint32(len(trailerBytes))); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// MobWriter is the local afero-backed mob.MobWriter implementation.
type MobWriter struct {
	*fileWriter
	maxTimestamp int64
}

func (w *MobWriter) Append(c mob.Cell) error { return w.append(c) }

func (w *MobWriter) AppendFileInfo(key string, value []byte) error { return w.appendFileInfo(key, value) }

// AppendMetadata writes the MOB file trailer (spec.md §4.4 step 3):
// max sequence ID, whether this file is the product of a major
// compaction, and the cell count consumers read back via
// MobFile.CellCount.
func (w *MobWriter) AppendMetadata(maxSeqID int64, majorCompaction bool, cellCount int64) error {
	trailer := map[string]string{
		"MAX_SEQ_ID":           formatInt(maxSeqID),
		"MAX_TIMESTAMP":        formatInt(w.maxTimestamp),
		"MOB_MAJOR_COMPACTION": formatBool(majorCompaction),
		mob.MetaMobCellsCount:  formatInt(cellCount),
	}
	return w.close(trailer)
}

func (w *MobWriter) Close() error {
	if w.closed {
		return nil
	}
	return w.close(map[string]string{mob.MetaMobCellsCount: "0"})
}

// RefWriter is the local afero-backed mob.RefWriter implementation.
type RefWriter struct {
	*fileWriter
	expectedEntries int64
}

func (w *RefWriter) Append(c mob.Cell) error { return w.append(c) }

func (w *RefWriter) AppendMetadata(maxSeqID int64, bulkloadTime int64) error {
	trailer := map[string]string{
		"MAX_SEQ_ID":    formatInt(maxSeqID),
		"BULKLOAD_TIME": formatInt(bulkloadTime),
		"EXPECTED_CELLS": formatInt(w.expectedEntries),
	}
	return w.close(trailer)
}

func (w *RefWriter) Close() error {
	if w.closed {
		return nil
	}
	return w.close(map[string]string{})
}

// DelWriter is the local afero-backed mob.DelWriter implementation.
type DelWriter struct {
	*fileWriter
}

func (w *DelWriter) Append(c mob.Cell) error { return w.append(c) }

func (w *DelWriter) AppendMetadata(maxSeqID int64) error {
	return w.close(map[string]string{"MAX_SEQ_ID": formatInt(maxSeqID)})
}

func (w *DelWriter) Close() error {
	if w.closed {
		return nil
	}
	return w.close(map[string]string{})
}

// WriterFactory constructs MobWriter/RefWriter/DelWriter instances
// rooted at an afero.Fs, implementing mob.WriterFactory.
type WriterFactory struct {
	Fs afero.Fs
}

func NewWriterFactory(fs afero.Fs) *WriterFactory { return &WriterFactory{Fs: fs} }

func (f *WriterFactory) NewMobWriter(dir, startKey, date string, maxTimestamp int64, compression string) (mob.MobWriter, error) {
	if err := f.Fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", dir)
	}
	name := mob.BuildMobFileName(startKey, date, ulid.Make().String())
	return &MobWriter{fileWriter: newFileWriter(f.Fs, dir, name, compression), maxTimestamp: maxTimestamp}, nil
}

func (f *WriterFactory) NewRefWriter(dir string, expectedEntries int64) (mob.RefWriter, error) {
	if err := f.Fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", dir)
	}
	name := "ref_" + ulid.Make().String()
	return &RefWriter{fileWriter: newFileWriter(f.Fs, dir, name, "none"), expectedEntries: expectedEntries}, nil
}

func (f *WriterFactory) NewDelWriter(dir string, date string, compression string, startKey string) (mob.DelWriter, error) {
	if err := f.Fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", dir)
	}
	name := mob.BuildDelFileName(startKey, date, ulid.Make().String())
	return &DelWriter{fileWriter: newFileWriter(f.Fs, dir, name, compression)}, nil
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

func formatBool(b bool) string { return strconv.FormatBool(b) }
