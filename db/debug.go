package db

import (
	"fmt"
	"io"
)

// PrintHistoryCLI writes the latest samples for fan to w.
func PrintHistoryCLI(dbPath string, fan, limit int, w io.Writer) error {
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	samples, err := RecentSamples(dbConn, fan, limit)
	if err != nil {
		return err
	}
	for i := len(samples) - 1; i >= 0; i-- {
		s := samples[i]
		rpm := "unavailable"
		if s.RPM >= 0 {
			rpm = fmt.Sprintf("%d RPM", s.RPM)
		}
		mark := ""
		if s.Written {
			mark = " *"
		}
		fmt.Fprintf(w, "%s  %-8s %3d°C  step %d  speed %3d  %s%s\n",
			s.TakenAt.Local().Format("15:04:05"), s.FanName, s.Temperature, s.Step, s.Speed, rpm, mark)
	}

	last, err := LastApply(dbConn)
	if err != nil {
		return err
	}
	if last != nil {
		status := "ok"
		if !last.OK {
			status = "failed: " + last.Error
		}
		fmt.Fprintf(w, "last apply %s (%s by %s, %d writes) %s\n",
			last.AppliedAt.Local().Format("2006-01-02 15:04:05"), last.Model, last.Author, last.Writes, status)
	}
	return nil
}
