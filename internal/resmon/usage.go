package resmon

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// userHZ is the clock tick of utime/stime in /proc/<pid>/stat; it is 100
// on every Linux architecture Go supports.
const userHZ = 100

var errMalformedStat = errors.New("malformed stat")

// Usage is the resource use of one process group.
type Usage struct {
	Processes  int
	RSSBytes   uint64
	CPUSeconds float64
}

// Collector reads process statistics from a proc filesystem.
type Collector struct {
	procRoot string
}

func NewCollector(procRoot string) *Collector {
	if strings.TrimSpace(procRoot) == "" {
		procRoot = "/proc"
	}
	return &Collector{procRoot: procRoot}
}

// Group sums the usage of every live process in process group pgid.
func (c *Collector) Group(pgid int) (Usage, error) {
	ents, err := os.ReadDir(c.procRoot)
	if err != nil {
		return Usage{}, err
	}
	var u Usage
	for _, ent := range ents {
		if !ent.IsDir() {
			continue
		}
		pid := ent.Name()
		if _, err := strconv.Atoi(pid); err != nil {
			continue
		}
		st, err := c.readStat(pid)
		if err != nil || st.pgrp != pgid {
			// Gone in the meantime, or not ours.
			continue
		}
		u.Processes++
		u.CPUSeconds += float64(st.utime+st.stime) / userHZ
		u.RSSBytes += c.readRSS(pid)
	}
	return u, nil
}

type procStat struct {
	pgrp  int
	utime uint64
	stime uint64
}

func (c *Collector) readStat(pid string) (procStat, error) {
	b, err := os.ReadFile(filepath.Join(c.procRoot, pid, "stat"))
	if err != nil {
		return procStat{}, err
	}
	return parseStat(string(b))
}

// parseStat parses /proc/<pid>/stat. The command name may contain spaces
// and parentheses, so fields are counted from the last ')'.
func parseStat(s string) (procStat, error) {
	i := strings.LastIndexByte(s, ')')
	if i < 0 {
		return procStat{}, errMalformedStat
	}
	f := strings.Fields(s[i+1:])
	// f[0] is field 3 (state): pgrp is field 5, utime 14, stime 15.
	if len(f) < 13 {
		return procStat{}, errMalformedStat
	}
	pgrp, err := strconv.Atoi(f[2])
	if err != nil {
		return procStat{}, errMalformedStat
	}
	utime, _ := strconv.ParseUint(f[11], 10, 64)
	stime, _ := strconv.ParseUint(f[12], 10, 64)
	return procStat{pgrp: pgrp, utime: utime, stime: stime}, nil
}

func (c *Collector) readRSS(pid string) uint64 {
	b, err := os.ReadFile(filepath.Join(c.procRoot, pid, "status"))
	if err != nil {
		return 0
	}
	for _, ln := range strings.Split(string(b), "\n") {
		if !strings.HasPrefix(ln, "VmRSS:") {
			continue
		}
		f := strings.Fields(ln)
		if len(f) >= 2 {
			v, _ := strconv.ParseUint(f[1], 10, 64)
			return v * 1024
		}
	}
	return 0
}
