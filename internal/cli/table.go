package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"

	"icloudgo/internal/account"
	"icloudgo/internal/drive"
	"icloudgo/internal/findmy"
	"icloudgo/internal/photos"
	pkgstrings "icloudgo/pkg/strings"
)

// NewTable creates a table writer with the standard styling that renders to w.
func NewTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

// RenderKeyValues renders ordered key/value pairs as a two column table.
func RenderKeyValues(w io.Writer, pairs [][2]string) {
	t := NewTable(w)
	t.AppendHeader(table.Row{"KEY", "VALUE"})
	for _, p := range pairs {
		t.AppendRow(table.Row{p[0], p[1]})
	}
	t.Render()
}

// RenderAccountDevices renders the devices registered to the account.
func RenderAccountDevices(w io.Writer, devices []account.Device) {
	t := NewTable(w)
	t.AppendHeader(table.Row{"NAME", "MODEL", "OS", "SERIAL"})
	for _, d := range devices {
		t.AppendRow(table.Row{d.Name, d.ModelDisplayName, d.OSVersion, d.SerialNumber})
	}
	t.Render()
}

// RenderFamily renders the family circle.
func RenderFamily(w io.Writer, members []account.FamilyMember) {
	t := NewTable(w)
	t.AppendHeader(table.Row{"NAME", "APPLE ID", "AGE", "PARENT"})
	for _, m := range members {
		t.AppendRow(table.Row{m.FullName, m.AppleID, m.AgeClassification, yesNo(m.HasParentalPrivileges)})
	}
	t.Render()
}

// RenderStorage renders the storage quota followed by the usage per media.
func RenderStorage(w io.Writer, usage *account.StorageUsage) {
	t := NewTable(w)
	t.AppendHeader(table.Row{"MEDIA", "USED"})
	for _, m := range usage.Media {
		t.AppendRow(table.Row{m.Label, FormatBytes(m.UsageInBytes)})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"Total", fmt.Sprintf("%s of %s (%.2f%%)",
		FormatBytes(usage.Used()), FormatBytes(usage.Total()), usage.UsedPercent())})
	t.Render()
}

// RenderLocatedDevices renders the devices known to the device locator.
func RenderLocatedDevices(w io.Writer, devices []*findmy.Device) {
	t := NewTable(w)
	t.AppendHeader(table.Row{"NAME", "MODEL", "BATTERY", "ID"})
	for _, d := range devices {
		battery := "-"
		if level, ok := d.Content()["batteryLevel"].(float64); ok {
			battery = fmt.Sprintf("%.0f%%", level*100)
		}
		t.AppendRow(table.Row{pkgstrings.Truncate(d.Name(), pkgstrings.DefaultNameMaxLen), d.DisplayName(), battery, d.ID()})
	}
	t.Render()
}

// RenderNodes renders drive folder contents, folders first.
func RenderNodes(w io.Writer, nodes []*drive.Node) {
	sorted := append([]*drive.Node(nil), nodes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].IsFolder() && !sorted[j].IsFolder()
	})

	t := NewTable(w)
	t.AppendHeader(table.Row{"NAME", "TYPE", "SIZE", "MODIFIED"})
	for _, n := range sorted {
		size := "-"
		if s, ok := n.Size(); ok {
			size = FormatBytes(s)
		}
		t.AppendRow(table.Row{pkgstrings.TruncateMiddle(n.Name(), pkgstrings.DefaultNameMaxLen), n.Type(), size, FormatTime(n.DateModified())})
	}
	t.Render()
}

// RenderLibraries renders the photo libraries by zone name.
func RenderLibraries(w io.Writer, libraries map[string]*photos.Library) {
	names := make([]string, 0, len(libraries))
	for name := range libraries {
		names = append(names, name)
	}
	sort.Strings(names)

	t := NewTable(w)
	t.AppendHeader(table.Row{"LIBRARY", "OWNER"})
	for _, name := range names {
		t.AppendRow(table.Row{name, libraries[name].Zone().OwnerRecordName})
	}
	t.Render()
}

// AlbumRow is an album with its asset count.
type AlbumRow struct {
	Name  string
	Count int
}

// RenderAlbums renders album names and sizes.
func RenderAlbums(w io.Writer, albums []AlbumRow) {
	t := NewTable(w)
	t.AppendHeader(table.Row{"ALBUM", "ITEMS"})
	for _, a := range albums {
		t.AppendRow(table.Row{pkgstrings.Truncate(a.Name, pkgstrings.DefaultNameMaxLen), a.Count})
	}
	t.Render()
}

// RenderAssets renders photo assets.
func RenderAssets(w io.Writer, assets []*photos.Asset) {
	t := NewTable(w)
	t.AppendHeader(table.Row{"FILENAME", "SIZE", "DIMENSIONS", "DATE", "ID"})
	for _, a := range assets {
		width, height := a.Dimensions()
		t.AppendRow(table.Row{pkgstrings.TruncateMiddle(a.Filename(), pkgstrings.DefaultNameMaxLen), FormatBytes(a.Size()), fmt.Sprintf("%dx%d", width, height),
			FormatTime(a.AssetDate()), a.ID()})
	}
	t.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
