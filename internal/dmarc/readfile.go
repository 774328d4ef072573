package dmarc

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// some xmls contain invalid XML by adding an unclosed xs tag
const xsTag = `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema" targetNamespace="http://dmarc.org/dmarc-xml/0.1">`

// ExtractReport returns the xml payload of a DMARC report archive. ok is
// false when the file is not a recognized delivery format: an extension
// other than .zip or .gz, a zip without an .xml entry, or a gz whose
// embedded filename does not end in .xml. Corrupt archives return an
// error instead.
func ExtractReport(filename string, content []byte) ([]byte, bool, error) {
	var xmlContent []byte
	switch filepath.Ext(filename) {
	case ".zip":
		var ok bool
		var err error
		xmlContent, ok, err = extractZIP(content)
		if err != nil || !ok {
			return nil, false, err
		}
	case ".gz":
		// standard single file gzip, the subfile is named like the
		// archive minus the .gz
		subfile := strings.TrimSuffix(filepath.Base(filename), ".gz")
		if !strings.HasSuffix(subfile, ".xml") {
			return nil, false, nil
		}
		var err error
		xmlContent, err = extractGZ(content)
		if err != nil {
			return nil, false, err
		}
	default:
		return nil, false, nil
	}

	xmlContent = bytes.ReplaceAll(xmlContent, []byte(xsTag), []byte(""))
	return xmlContent, true, nil
}

func extractGZ(content []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("could not gzip read: %w", err)
	}
	defer gz.Close()

	xmlContent, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("could not read: %w", err)
	}
	return xmlContent, nil
}

func extractZIP(content []byte) ([]byte, bool, error) {
	r, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, false, fmt.Errorf("could not open zip: %w", err)
	}
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		x, err := f.Open()
		if err != nil {
			return nil, false, fmt.Errorf("could not open file %s inside zip: %w", f.Name, err)
		}
		xmlContent, err := io.ReadAll(x)
		x.Close()
		if err != nil {
			return nil, false, fmt.Errorf("could not read file %s inside zip: %w", f.Name, err)
		}
		// only the first xml entry in the zip file is used
		return xmlContent, true, nil
	}
	return nil, false, nil
}
