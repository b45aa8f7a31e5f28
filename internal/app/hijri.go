package app

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/relabs-tech/qibla_compass/internal/hijri"
)

// PrintHijri writes the Hijri date of t and its observance, if any.
func PrintHijri(w io.Writer, t time.Time) error {
	d, err := hijri.Convert(t)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s  %s (%s)\n", t.Format(time.DateOnly), d, d.Weekday)
	if e, ok := hijri.EventFor(d); ok {
		fmt.Fprintf(w, "  %s\n", e.Name)
	}
	return nil
}

// PrintHijriEvents writes the observances of a Hijri year as a table.
func PrintHijriEvents(w io.Writer, year int) error {
	events, err := hijri.YearlyEvents(year)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "HIJRI\tGREGORIAN\tEVENT\n")
	for _, o := range events {
		name := o.Name
		if o.Holiday {
			name += " *"
		}
		fmt.Fprintf(tw, "%d %s\t%s\t%s\n", o.Date.Day, o.Date.Month, o.Gregorian.Format("Mon 2006-01-02"), name)
	}
	return tw.Flush()
}
