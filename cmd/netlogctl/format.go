package main

import (
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"
)

var FuncMap = template.FuncMap{
	"humanBytes": func(n uint64) string {
		return humanize.Bytes(n)
	},
	"humanCount": func(n uint64) string {
		return humanize.Comma(int64(n))
	},
	"parseDate": formatDate,
	"timeToDuration": func(i uint64) string {
		return humanize.Time(time.Unix(int64(i), 0))
	},
}

func formatDate(ts uint64) string {
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
}

func ParseTemplate(body string) *template.Template {
	tpl, err := template.New("").Funcs(promptui.FuncMap).Funcs(FuncMap).Parse(fmt.Sprintf("%s\n", body))
	if err != nil {
		panic(err)
	}
	return tpl
}

func getTable(headers []string, w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}
