// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/relabs-tech/qibla_compass/internal/app"
)

func main() {
	date := flag.String("date", "", "Gregorian date YYYY-MM-DD (default today)")
	year := flag.Int("year", 0, "list the observances of this Hijri year")
	flag.Parse()

	if *year != 0 {
		if err := app.PrintHijriEvents(os.Stdout, *year); err != nil {
			log.Fatalf("fatal: %v", err)
		}
		return
	}

	t := time.Now()
	if *date != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, *date, time.Local)
		if err != nil {
			log.Fatalf("invalid -date: %v", err)
		}
		t = parsed
	}
	if err := app.PrintHijri(os.Stdout, t); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
