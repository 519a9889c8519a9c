package attendance

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	clockLayout = "15:04"
	dateLayout  = "2006-01-02"
)

// Schedule is an importable set of classes, enrolments and session
// instances for stores that resolve sessions locally.
type Schedule struct {
	Classes []Class `yaml:"classes"`
}

// Class is one course with its enrolled identities and weekly slots.
type Class struct {
	ID       int64              `yaml:"id"`
	Code     string             `yaml:"code"`
	Name     string             `yaml:"name"`
	Status   string             `yaml:"status"`
	Students []int64            `yaml:"students"`
	Sessions []TimetableSession `yaml:"sessions"`
}

// TimetableSession is a recurring time slot of a class.
type TimetableSession struct {
	ID        int64             `yaml:"id"`
	Start     string            `yaml:"start"`
	End       string            `yaml:"end"`
	Instances []SessionInstance `yaml:"instances"`
}

// SessionInstance is one dated occurrence of a timetable session. Its ID
// is what marks are recorded against.
type SessionInstance struct {
	ID     int64  `yaml:"id"`
	Date   string `yaml:"date"`
	Status string `yaml:"status"`
}

// ImportReport counts rows written by a schedule import.
type ImportReport struct {
	Classes     int `json:"classes"`
	Enrollments int `json:"enrollments"`
	Sessions    int `json:"sessions"`
	Instances   int `json:"instances"`
}

// ScheduleImporter is implemented by stores that keep a local schedule.
type ScheduleImporter interface {
	ImportSchedule(ctx context.Context, schedule *Schedule) (ImportReport, error)
}

// LoadSchedule reads and validates a YAML schedule file.
func LoadSchedule(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}
	return ParseSchedule(data)
}

// ParseSchedule decodes a YAML schedule, fills default statuses and checks
// ids, clock times and dates.
func ParseSchedule(data []byte) (*Schedule, error) {
	var schedule Schedule
	if err := yaml.Unmarshal(data, &schedule); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	classIDs := map[int64]bool{}
	sessionIDs := map[int64]bool{}
	instanceIDs := map[int64]bool{}
	for ci := range schedule.Classes {
		class := &schedule.Classes[ci]
		if class.ID <= 0 {
			return nil, fmt.Errorf("schedule class %d: id must be positive", ci)
		}
		if classIDs[class.ID] {
			return nil, fmt.Errorf("schedule class %d: duplicate id", class.ID)
		}
		classIDs[class.ID] = true
		if strings.TrimSpace(class.Name) == "" {
			class.Name = class.Code
		}
		if class.Status == "" {
			class.Status = "active"
		}
		for si := range class.Sessions {
			session := &class.Sessions[si]
			if session.ID <= 0 || sessionIDs[session.ID] {
				return nil, fmt.Errorf("schedule class %d: session %d: id must be positive and unique", class.ID, session.ID)
			}
			sessionIDs[session.ID] = true
			start, err := time.Parse(clockLayout, session.Start)
			if err != nil {
				return nil, fmt.Errorf("schedule session %d: start %q: want HH:MM", session.ID, session.Start)
			}
			end, err := time.Parse(clockLayout, session.End)
			if err != nil {
				return nil, fmt.Errorf("schedule session %d: end %q: want HH:MM", session.ID, session.End)
			}
			if !end.After(start) {
				return nil, fmt.Errorf("schedule session %d: end must be after start", session.ID)
			}
			for ii := range session.Instances {
				inst := &session.Instances[ii]
				if inst.ID <= 0 || instanceIDs[inst.ID] {
					return nil, fmt.Errorf("schedule session %d: instance %d: id must be positive and unique", session.ID, inst.ID)
				}
				instanceIDs[inst.ID] = true
				if _, err := time.Parse(dateLayout, inst.Date); err != nil {
					return nil, fmt.Errorf("schedule instance %d: date %q: want YYYY-MM-DD", inst.ID, inst.Date)
				}
				if inst.Status == "" {
					inst.Status = "scheduled"
				}
			}
		}
	}
	return &schedule, nil
}

// SessionWindow returns the start and end instants of a session instance
// on date between the start and end clock times, interpreted in loc. Clock
// times may carry seconds.
func SessionWindow(date, start, end string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	from, err := parseDateClock(date, start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDateClock(date, end, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

func parseDateClock(date, clock string, loc *time.Location) (time.Time, error) {
	value := strings.TrimSpace(date) + " " + strings.TrimSpace(clock)
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse session time %q", value)
}

// ActiveWindow reports whether now falls within [start, end].
func ActiveWindow(now, start, end time.Time) bool {
	return !now.Before(start) && !now.After(end)
}
