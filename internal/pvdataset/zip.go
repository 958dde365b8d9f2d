package pvdataset

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/sirupsen/logrus"
)

func openZip(path string) (*Dataset, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	src := &zipSource{rc: rc, entries: make(map[string]*zip.File)}
	rootName := ""
	for _, f := range rc.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := strings.TrimSuffix(f.Name, "/")
		if rootName == "" {
			if i := strings.IndexByte(name, '/'); i > 0 {
				rootName = name[:i]
			}
		}
		src.entries[name] = f
	}

	d := &Dataset{
		path:     path,
		zipped:   true,
		rootName: rootName,
		src:      src,
		scans:    make(map[int]*Scan),
	}

	for name := range src.entries {
		d.classifyZipEntry(name)
	}
	return d, nil
}

// classifyZipEntry applies the layout rules by archive path depth: the
// subject file sits directly under the study folder, scan parameter files
// one level deeper, and reconstruction files under pdata two levels below
// the scan.
func (d *Dataset) classifyZipEntry(name string) {
	parts := strings.Split(name, "/")
	switch len(parts) {
	case 2:
		if parts[1] != "subject" {
			return
		}
		params, err := d.parseParams(name)
		if err != nil {
			logrus.WithField("entry", name).Warnf("unreadable subject file: %v", err)
			return
		}
		d.subject = params
	case 3:
		scanID, ok := parseID(parts[1])
		if !ok {
			return
		}
		switch parts[2] {
		case "method":
			if m, err := d.parseParams(name); err == nil {
				d.scan(scanID).method = m
			}
		case "acqp":
			if a, err := d.parseParams(name); err == nil {
				d.scan(scanID).acqp = a
			}
		case "fid", "rawdata.job0":
			s := d.scan(scanID)
			if s.fidRel == "" {
				s.fidRel = name
			}
		}
	case 5:
		if parts[2] != "pdata" {
			return
		}
		scanID, ok := parseID(parts[1])
		if !ok {
			return
		}
		recoID, ok := parseID(parts[3])
		if !ok {
			return
		}
		switch parts[4] {
		case "2dseq":
			d.reco(scanID, recoID).dataRel = name
		case "visu_pars":
			if visu, err := d.parseParams(name); err == nil {
				d.reco(scanID, recoID).visu = visu
			} else {
				logrus.WithField("entry", name).Warnf("unreadable visu_pars: %v", err)
			}
		case "reco":
			if r, err := d.parseParams(name); err == nil {
				d.reco(scanID, recoID).recoParams = r
			}
		}
	}
}

func (d *Dataset) reco(scanID, recoID int) *Reco {
	s := d.scan(scanID)
	r, ok := s.recos[recoID]
	if !ok {
		r = &Reco{id: recoID, scan: s}
		s.recos[recoID] = r
	}
	return r
}

type zipSource struct {
	rc      *zip.ReadCloser
	entries map[string]*zip.File
}

func (z *zipSource) find(rel string) (*zip.File, error) {
	f, ok := z.entries[rel]
	if !ok {
		return nil, fmt.Errorf("archive entry %s not found", rel)
	}
	return f, nil
}

func (z *zipSource) reader(rel string) (io.ReadCloser, error) {
	f, err := z.find(rel)
	if err != nil {
		return nil, err
	}
	return f.Open()
}

func (z *zipSource) bytes(rel string) ([]byte, error) {
	r, err := z.reader(rel)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (z *zipSource) stat(rel string) (fs.FileInfo, error) {
	f, err := z.find(rel)
	if err != nil {
		return nil, err
	}
	return f.FileInfo(), nil
}

func (z *zipSource) close() error { return z.rc.Close() }
