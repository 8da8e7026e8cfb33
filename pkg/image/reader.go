/*
   SDSPI - SD card driver for the serial peripheral bus
   Copyright (c) 2022, Alexander Vollschwitz

   This file is part of SDSPI.

   SDSPI is free software: you can redistribute it and/or modify
   it under the terms of the GNU General Public License as published by
   the Free Software Foundation, either version 3 of the License, or
   (at your option) any later version.

   SDSPI is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
   GNU General Public License for more details.

   You should have received a copy of the GNU General Public License
   along with SDSPI. If not, see <http://www.gnu.org/licenses/>.
*/

package image

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"

	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sdspi/pkg/sd"
)

/*
	Open opens the card image file at path. The compressor is determined from
	the file's extensions.
*/
func Open(path string) (*Reader, error) {

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	_, _, compressor := SplitNameTypeCompressor(path)
	ret, err := NewReader(f, compressor)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error opening image %s: %v", path, err)
	}

	if ret.name == "" {
		ret.name, ret.typ, _ = SplitNameTypeCompressor(path)
	}
	return ret, nil
}

// SizeUnknown is reported by Reader.Size when the image size cannot be told
// without reading the whole image, as is the case for gzip streams.
const SizeUnknown int64 = -1

// a decoder unpacks an image from its compressed source
type decoder func(src io.ReadCloser) (*Reader, error)

var decoders = map[string]decoder{
	"":     plain,
	"gz":   gunzip,
	"gzip": gunzip,
	"zip":  unzip,
	"7z":   un7zip,
}

/*
	NewReader returns a reader for the uncompressed image contained in r.
	compressor is one of gzip, gz, zip, 7z, or empty for a plain image. For
	archives, the first regular file entry is the image.
*/
func NewReader(r io.ReadCloser, compressor string) (*Reader, error) {

	dec, ok := decoders[strings.ToLower(compressor)]
	if !ok {
		return nil, fmt.Errorf("unsupported compressor '%s'", compressor)
	}

	ret, err := dec(r)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"compressor": ret.compressor,
		"entry":      ret.entry,
		"size":       ret.size,
	}).Debug("image reader created")

	return ret, nil
}

// Reader reads the uncompressed contents of a card image.
type Reader struct {
	io.ReadCloser
	//
	name       string
	typ        string
	compressor string
	entry      string
	size       int64
}

//
func (r *Reader) Name() string {
	return r.name
}

//
func (r *Reader) Type() string {
	return r.typ
}

//
func (r *Reader) Compressor() string {
	return r.compressor
}

// Entry is the name of the archive entry holding the image, if any.
func (r *Reader) Entry() string {
	return r.entry
}

// Size is the uncompressed image size in bytes, or SizeUnknown.
func (r *Reader) Size() int64 {
	return r.size
}

/*
	Sectors is the number of card sectors the image occupies, with a partial
	last sector counting as a full one, or SizeUnknown.
*/
func (r *Reader) Sectors() int64 {
	if r.size < 0 {
		return SizeUnknown
	}
	return (r.size + sd.SectorSize - 1) / sd.SectorSize
}

//
func plain(src io.ReadCloser) (*Reader, error) {
	ret := &Reader{ReadCloser: src, size: SizeUnknown}
	if f, ok := src.(*os.File); ok {
		if st, err := f.Stat(); err == nil && st.Mode().IsRegular() {
			ret.size = st.Size()
		}
	}
	return ret, nil
}

//
func gunzip(src io.ReadCloser) (*Reader, error) {

	gzr, err := gzip.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("invalid gzip image: %v", err)
	}

	ret := &Reader{
		ReadCloser: &closeBoth{gzr, src},
		compressor: "gzip",
		entry:      gzr.Name,
		size:       SizeUnknown,
	}
	ret.name, ret.typ, _ = SplitNameTypeCompressor(gzr.Name)
	return ret, nil
}

// entry is a file inside an image archive
type entry struct {
	name string
	info fs.FileInfo
	open func() (io.ReadCloser, error)
}

//
func unzip(src io.ReadCloser) (*Reader, error) {

	data, err := slurp(src)
	if err != nil {
		return nil, err
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid zip image: %v", err)
	}

	entries := make([]entry, len(zr.File))
	for ix, f := range zr.File {
		entries[ix] = entry{name: f.Name, info: f.FileInfo(), open: f.Open}
	}
	return fromArchive("zip", entries)
}

//
func un7zip(src io.ReadCloser) (*Reader, error) {

	data, err := slurp(src)
	if err != nil {
		return nil, err
	}

	zr, err := sevenzip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid 7-zip image: %v", err)
	}

	entries := make([]entry, len(zr.File))
	for ix, f := range zr.File {
		entries[ix] = entry{name: f.Name, info: f.FileInfo(), open: f.Open}
	}
	return fromArchive("7z", entries)
}

// slurp reads all of src and closes it. Archives need random access.
func slurp(src io.ReadCloser) ([]byte, error) {
	defer src.Close()
	return io.ReadAll(src)
}

/*
	fromArchive opens the first regular file among entries. Directories and
	other non-regular entries are skipped.
*/
func fromArchive(compressor string, entries []entry) (*Reader, error) {

	var img *entry
	skipped := 0

	for ix := range entries {
		if !entries[ix].info.Mode().IsRegular() {
			continue
		}
		if img == nil {
			img = &entries[ix]
		} else {
			skipped++
		}
	}

	if img == nil {
		return nil, fmt.Errorf("no image file in %s archive", compressor)
	}
	if skipped > 0 {
		log.WithFields(log.Fields{
			"entry":   img.name,
			"skipped": skipped,
		}).Warnf("%s archive holds more than one file, using first", compressor)
	}

	rc, err := img.open()
	if err != nil {
		return nil, fmt.Errorf("error opening %s in archive: %v", img.name, err)
	}

	ret := &Reader{
		ReadCloser: rc,
		compressor: compressor,
		entry:      img.name,
		size:       img.info.Size(),
	}
	ret.name, ret.typ, _ = SplitNameTypeCompressor(img.name)
	return ret, nil
}

// closeBoth closes a decompressor together with its source.
type closeBoth struct {
	io.ReadCloser
	source io.Closer
}

//
func (c *closeBoth) Close() error {
	err := c.ReadCloser.Close()
	if e := c.source.Close(); err == nil {
		err = e
	}
	return err
}

/*
	SplitNameTypeCompressor splits a file name into base name, image type, and
	compressor, e.g. `backup.img.gz` gives `backup`, `img`, and `gz`.
	Unknown extensions are dropped.
*/
func SplitNameTypeCompressor(file string) (name, typ, compressor string) {

	_, n := filepath.Split(file)

	for {
		ext := filepath.Ext(n)
		if ext == "" {
			name = n
			break
		}

		n = strings.TrimSuffix(n, ext)
		ext = strings.ToLower(strings.TrimPrefix(ext, "."))

		switch ext {

		case "img", "bin", "raw", "log":
			typ = ext

		case "gz", "gzip", "zip", "7z":
			compressor = ext
		}
	}

	return name, typ, compressor
}

/*
	Create creates an image file for writing at path, compressing with gzip
	if the file name ends in .gz or .gzip.
*/
func Create(path string) (io.WriteCloser, error) {

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	switch _, _, c := SplitNameTypeCompressor(path); c {
	case "":
		return f, nil
	case "gz", "gzip":
		gzw := gzip.NewWriter(f)
		name, typ, _ := SplitNameTypeCompressor(path)
		if typ != "" {
			name += "." + typ
		}
		gzw.Name = name
		return &writeCloseBoth{gzw, f}, nil
	default:
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("cannot write %s compressed images", c)
	}
}

//
type writeCloseBoth struct {
	io.WriteCloser
	sink io.Closer
}

//
func (w *writeCloseBoth) Close() error {
	err := w.WriteCloser.Close()
	if e := w.sink.Close(); err == nil {
		err = e
	}
	return err
}
