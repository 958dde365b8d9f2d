package convert

import (
	"fmt"
	"regexp"
	"time"

	"github.com/mrsinham/brkraw/internal/jcampdx"
)

var (
	// 10:34:16  19 Feb 2020, used by Paravision 5
	clockDatePattern = regexp.MustCompile(`(\d{2}:\d{2}:\d{2})\s+(\d+\s\w+\s\d{4})`)
	// 2020-02-19T10:34:16, used by Paravision 6 and later
	isoDatePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})[T](\d{2}:\d{2}:\d{2})`)
)

// ScanTime holds the session date, the session start clock and, when visu
// parameters were given, the end of that acquisition.
type ScanTime struct {
	Date  time.Time
	Start time.Time
	End   time.Time
}

// ScanTime reads the session clock from the subject file. A non-nil visu
// fills End with the acquisition end of that reconstruction.
func (c *Converter) ScanTime(visu *jcampdx.Parameters) (*ScanTime, error) {
	subject := c.ds.Subject()
	if subject == nil {
		return nil, fmt.Errorf("dataset has no subject parameters")
	}
	raw, err := firstString(subject, "SUBJECT_date")
	if err != nil {
		return nil, err
	}

	st := &ScanTime{}
	if m := clockDatePattern.FindStringSubmatch(raw); m != nil {
		start, err := time.Parse("15:04:05", m[1])
		if err != nil {
			return nil, err
		}
		date, err := time.Parse("2 Jan 2006", m[2])
		if err != nil {
			return nil, err
		}
		st.Date = date
		st.Start = start
		if visu != nil {
			acqRaw, err := visu.Text("VisuAcqDate")
			if err != nil {
				return nil, err
			}
			am := clockDatePattern.FindStringSubmatch(acqRaw)
			if am == nil {
				return nil, fmt.Errorf("unrecognized VisuAcqDate %q", acqRaw)
			}
			last, err := time.Parse("15:04:05", am[1])
			if err != nil {
				return nil, err
			}
			msec, err := visu.Float("VisuAcqScanTime")
			if err != nil {
				return nil, err
			}
			st.End = last.Add(time.Duration(msec/1000*float64(time.Second)))
		}
		return st, nil
	}
	if m := isoDatePattern.FindStringSubmatch(raw); m != nil {
		date, err := time.Parse("2006-01-02", m[1])
		if err != nil {
			return nil, err
		}
		start, err := time.Parse("15:04:05", m[2])
		if err != nil {
			return nil, err
		}
		st.Date = date
		st.Start = start
		if visu != nil {
			created, err := firstString(visu, "VisuCreationDate")
			if err != nil {
				return nil, err
			}
			cm := isoDatePattern.FindStringSubmatch(created)
			if cm == nil {
				return nil, fmt.Errorf("unrecognized VisuCreationDate %q", created)
			}
			end, err := time.Parse("15:04:05", cm[2])
			if err != nil {
				return nil, err
			}
			st.End = end
		}
		return st, nil
	}
	return nil, fmt.Errorf("unrecognized SUBJECT_date %q", raw)
}
