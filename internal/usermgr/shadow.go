package usermgr

import (
	"fmt"
	"strings"
)

type ShadowFile struct {
	pf parsedFile[ShadowEntry]
}

func ParseShadow(data []byte) (*ShadowFile, error) {
	pf, err := parseFile(data, 2, func(parts []string) (ShadowEntry, error) {
		for len(parts) < 9 {
			parts = append(parts, "")
		}
		return ShadowEntry{
			Name:       parts[0],
			Hash:       parts[1],
			LastChange: parts[2],
			Min:        parts[3],
			Max:        parts[4],
			Warn:       parts[5],
			Inactive:   parts[6],
			Expire:     parts[7],
			Reserved:   parts[8],
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &ShadowFile{pf: pf}, nil
}

func (f *ShadowFile) Find(name string) *ShadowEntry {
	for _, e := range f.pf.entries() {
		if e.Name == name {
			return e
		}
	}
	return nil
}

func (f *ShadowFile) Add(e ShadowEntry) error {
	if f.Find(e.Name) != nil {
		return fmt.Errorf("shadow entry already exists: %s", e.Name)
	}
	f.pf.add(e)
	return nil
}

func (f *ShadowFile) Bytes() []byte {
	return f.pf.bytes(func(e *ShadowEntry) string {
		return strings.Join([]string{
			e.Name, e.Hash, e.LastChange, e.Min, e.Max, e.Warn, e.Inactive, e.Expire, e.Reserved,
		}, ":")
	})
}
