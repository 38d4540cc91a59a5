package usermgr

import (
	"fmt"
	"strings"
)

type GroupFile struct {
	pf parsedFile[GroupEntry]
}

func ParseGroup(data []byte) (*GroupFile, error) {
	pf, err := parseFile(data, 4, func(parts []string) (GroupEntry, error) {
		gid, err := atoi(parts[2], "group.gid")
		if err != nil {
			return GroupEntry{}, err
		}
		members := []string{}
		if parts[3] != "" {
			members = strings.Split(parts[3], ",")
		}
		return GroupEntry{Name: parts[0], Passwd: parts[1], GID: gid, Members: members}, nil
	})
	if err != nil {
		return nil, err
	}
	return &GroupFile{pf: pf}, nil
}

func (f *GroupFile) Find(name string) *GroupEntry {
	for _, e := range f.pf.entries() {
		if e.Name == name {
			return e
		}
	}
	return nil
}

func (f *GroupFile) FindByGID(gid int) *GroupEntry {
	for _, e := range f.pf.entries() {
		if e.GID == gid {
			return e
		}
	}
	return nil
}

func (f *GroupFile) Add(e GroupEntry) error {
	if f.Find(e.Name) != nil {
		return fmt.Errorf("group already exists: %s", e.Name)
	}
	if f.FindByGID(e.GID) != nil {
		return fmt.Errorf("gid already exists: %d", e.GID)
	}
	f.pf.add(e)
	return nil
}

func (f *GroupFile) Bytes() []byte {
	return f.pf.bytes(func(e *GroupEntry) string {
		return fmt.Sprintf("%s:%s:%d:%s", e.Name, e.Passwd, e.GID, strings.Join(e.Members, ","))
	})
}
