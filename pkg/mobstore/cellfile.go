// SPDX-License-Identifier: AGPL-3.0-only

// Package mobstore provides local, in-process reference implementations
// of the filesystem, scanner, writer, bulkload and archival collaborators
// pkg/mob consumes as interfaces. They exist so the module is buildable,
// testable and runnable end to end without a real wide-column store
// attached; callers of pkg/mob are never required to use them.
package mobstore

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/mobstore/mobcompactor/pkg/mob"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

func writeBytesField(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytesField(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// encodeCell appends c's wire representation to w.
func encodeCell(w io.Writer, c mob.Cell) error {
	if err := writeBytesField(w, c.Row); err != nil {
		return err
	}
	if err := writeBytesField(w, c.Family); err != nil {
		return err
	}
	if err := writeBytesField(w, c.Qualifier); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, c.Timestamp); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(c.Type)}); err != nil {
		return err
	}
	if err := writeBytesField(w, c.Value); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(c.Tags))); err != nil {
		return err
	}
	for _, t := range c.Tags {
		if _, err := w.Write([]byte{byte(t.Type)}); err != nil {
			return err
		}
		if err := writeBytesField(w, t.Value); err != nil {
			return err
		}
	}
	return nil
}

// decodeCell reads one cell written by encodeCell from r.
func decodeCell(r *bufio.Reader) (mob.Cell, error) {
	var c mob.Cell
	var err error

	if c.Row, err = readBytesField(r); err != nil {
		return c, err
	}
	if c.Family, err = readBytesField(r); err != nil {
		return c, err
	}
	if c.Qualifier, err = readBytesField(r); err != nil {
		return c, err
	}
	if err = binary.Read(r, binary.BigEndian, &c.Timestamp); err != nil {
		return c, err
	}
	typeByte, err := r.ReadByte()
	if err != nil {
		return c, err
	}
	c.Type = mob.CellType(typeByte)
	if c.Value, err = readBytesField(r); err != nil {
		return c, err
	}
	var numTags uint16
	if err = binary.Read(r, binary.BigEndian, &numTags); err != nil {
		return c, err
	}
	if numTags > 0 {
		c.Tags = make([]mob.Tag, numTags)
		for i := range c.Tags {
			tb, terr := r.ReadByte()
			if terr != nil {
				return c, terr
			}
			c.Tags[i].Type = mob.TagType(tb)
			if c.Tags[i].Value, terr = readBytesField(r); terr != nil {
				return c, terr
			}
		}
	}
	return c, nil
}

// decodeAllCells decodes every cell in body (an already-decompressed
// cell section) into a slice, in file order.
func decodeAllCells(body []byte) ([]mob.Cell, error) {
	r := bufio.NewReader(bytes.NewReader(body))
	var cells []mob.Cell
	for {
		c, err := decodeCell(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "decode cell")
		}
		cells = append(cells, c)
	}
	return cells, nil
}

// marshalTrailer serializes a trailer metadata map with json-iterator,
// the corpus's preferred substitute for encoding/json.
func marshalTrailer(m map[string]string) ([]byte, error) {
	b, err := jsonAPI.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "marshal trailer metadata")
	}
	return b, nil
}

func unmarshalTrailer(b []byte) (map[string]string, error) {
	m := map[string]string{}
	if len(b) == 0 {
		return m, nil
	}
	if err := jsonAPI.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(err, "unmarshal trailer metadata")
	}
	return m, nil
}
