package session

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"cortexmem/internal/storage"
)

// RegenerateTimelineIndexes rebuilds every day/month/year index.md under
// threadID's timeline tree. These are purely additive read-model files
// summarising message counts and linking to the underlying blobs — they
// never change the on-disk layout ListMessages walks, and are excluded
// from it by name.
func (m *Manager) RegenerateTimelineIndexes(threadID string) ([]string, error) {
	root := timelineRoot(threadID)
	exists, err := m.fs.Exists(root)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	yearMonths, err := m.fs.List(root)
	if err != nil {
		return nil, err
	}

	var generated []string
	years := map[int]bool{}
	for _, ym := range yearMonths {
		if !ym.IsDir {
			continue
		}
		year, month, ok := parseYearMonth(ym.Name)
		if !ok {
			continue
		}
		years[year] = true

		monthlyURI, err := m.generateMonthlyIndex(threadID, year, month)
		if err != nil {
			return generated, err
		}
		generated = append(generated, monthlyURI)

		days, err := m.fs.List(root.Child(ym.Name))
		if err != nil {
			continue
		}
		for _, day := range days {
			if !day.IsDir {
				continue
			}
			dayNum, err := strconv.Atoi(day.Name)
			if err != nil || dayNum == 0 {
				continue
			}
			dailyURI, err := m.generateDailyIndex(threadID, year, month, dayNum)
			if err != nil {
				return generated, err
			}
			generated = append(generated, dailyURI)
		}
	}

	for year := range years {
		yearlyURI, err := m.generateYearlyIndex(threadID, year)
		if err != nil {
			return generated, err
		}
		generated = append(generated, yearlyURI)
	}

	return generated, nil
}

// generateDailyIndex writes timeline/{YYYY-MM}/{DD}/index.md, listing
// every message blob in that day in filename order.
func (m *Manager) generateDailyIndex(threadID string, year, month, day int) (string, error) {
	yearMonth := fmt.Sprintf("%04d-%02d", year, month)
	dayStr := fmt.Sprintf("%02d", day)
	dayURI := timelineRoot(threadID).Child(yearMonth).Child(dayStr)

	entries, err := m.fs.List(dayURI)
	if err != nil {
		return "", err
	}

	var messages []string
	for _, e := range entries {
		if e.IsDir || e.Name == storage.IndexFile || !strings.HasSuffix(e.Name, ".md") {
			continue
		}
		messages = append(messages, e.Name)
	}
	sort.Strings(messages)

	var b strings.Builder
	fmt.Fprintf(&b, "# Timeline: %04d-%02d-%02d\n\n", year, month, day)
	fmt.Fprintf(&b, "**Thread**: %s\n\n", threadID)
	fmt.Fprintf(&b, "**Messages**: %d\n\n", len(messages))
	b.WriteString("## Messages\n\n")
	for _, name := range messages {
		parts := strings.SplitN(strings.TrimSuffix(name, ".md"), "_", 4)
		if len(parts) < 3 {
			continue
		}
		fmt.Fprintf(&b, "- [%s:%s:%s](%s)\n", parts[0], parts[1], parts[2], dayURI.Child(name).String())
	}

	indexURI := dayURI.Child(storage.IndexFile)
	if err := m.fs.Write(indexURI, b.String()); err != nil {
		return "", err
	}
	return indexURI.String(), nil
}

// generateMonthlyIndex writes timeline/{YYYY-MM}/index.md, summarising
// each day's message count.
func (m *Manager) generateMonthlyIndex(threadID string, year, month int) (string, error) {
	yearMonth := fmt.Sprintf("%04d-%02d", year, month)
	monthURI := timelineRoot(threadID).Child(yearMonth)

	entries, err := m.fs.List(monthURI)
	if err != nil {
		return "", err
	}

	var days []storage.EntryInfo
	for _, e := range entries {
		if e.IsDir {
			days = append(days, e)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Name < days[j].Name })

	var b strings.Builder
	fmt.Fprintf(&b, "# Timeline: %s\n\n", yearMonth)
	fmt.Fprintf(&b, "**Thread**: %s\n\n", threadID)
	b.WriteString("## Daily Breakdown\n\n")

	total := 0
	for _, day := range days {
		dayEntries, err := m.fs.List(monthURI.Child(day.Name))
		if err != nil {
			continue
		}
		count := 0
		for _, e := range dayEntries {
			if !e.IsDir && e.Name != storage.IndexFile && strings.HasSuffix(e.Name, ".md") {
				count++
			}
		}
		total += count
		dayIndexURI := monthURI.Child(day.Name).Child(storage.IndexFile)
		fmt.Fprintf(&b, "- **%s**: %d messages ([view](%s))\n", day.Name, count, dayIndexURI.String())
	}
	fmt.Fprintf(&b, "\n**Total Messages**: %d\n", total)

	indexURI := monthURI.Child(storage.IndexFile)
	if err := m.fs.Write(indexURI, b.String()); err != nil {
		return "", err
	}
	return indexURI.String(), nil
}

// generateYearlyIndex writes timeline/{YYYY}/index.md, a sibling of the
// year's YYYY-MM month directories, linking to each month's index.
func (m *Manager) generateYearlyIndex(threadID string, year int) (string, error) {
	timelineURI := timelineRoot(threadID)
	entries, err := m.fs.List(timelineURI)
	if err != nil {
		return "", err
	}

	yearPrefix := fmt.Sprintf("%04d-", year)
	var months []storage.EntryInfo
	for _, e := range entries {
		if e.IsDir && strings.HasPrefix(e.Name, yearPrefix) {
			months = append(months, e)
		}
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Name < months[j].Name })

	var b strings.Builder
	fmt.Fprintf(&b, "# Timeline: %d\n\n", year)
	fmt.Fprintf(&b, "**Thread**: %s\n\n", threadID)
	b.WriteString("## Monthly Breakdown\n\n")
	for _, mth := range months {
		monthIndexURI := timelineURI.Child(mth.Name).Child(storage.IndexFile)
		fmt.Fprintf(&b, "- **%s**: ([view](%s))\n", mth.Name, monthIndexURI.String())
	}

	yearURI := timelineURI.Child(strconv.Itoa(year))
	indexURI := yearURI.Child(storage.IndexFile)
	if err := m.fs.Write(indexURI, b.String()); err != nil {
		return "", err
	}
	return indexURI.String(), nil
}

func parseYearMonth(name string) (year, month int, ok bool) {
	parts := strings.SplitN(name, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	year, err1 := strconv.Atoi(parts[0])
	month, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || year == 0 || month == 0 {
		return 0, 0, false
	}
	return year, month, true
}
