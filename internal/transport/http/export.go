package http

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"keyforge/internal/lifecycle"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	keysSheet  = "Keys"
	usersSheet = "Users"
)

var (
	keysHeader  = []interface{}{"Key", "Created At", "Used", "State"}
	usersHeader = []interface{}{"User ID", "HWID", "IP", "Key", "Registered At", "Cookies"}
)

// WriteWorkbook renders snap as a two sheet XLSX workbook
func WriteWorkbook(w io.Writer, snap *lifecycle.Snapshot) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), keysSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(usersSheet); err != nil {
		return fmt.Errorf("create users sheet: %w", err)
	}

	if err := f.SetSheetRow(keysSheet, "A1", &keysHeader); err != nil {
		return fmt.Errorf("write keys header: %w", err)
	}
	for i, k := range snap.Keys {
		row := []interface{}{k.Key, k.CreatedAt.UTC(), k.Used, string(k.State)}
		if err := f.SetSheetRow(keysSheet, cellName(i+2), &row); err != nil {
			return fmt.Errorf("write key row %d: %w", i+2, err)
		}
	}

	if err := f.SetSheetRow(usersSheet, "A1", &usersHeader); err != nil {
		return fmt.Errorf("write users header: %w", err)
	}
	for i, u := range snap.Users {
		row := []interface{}{u.UserID, u.HWID, u.IP, u.Key, u.RegisteredAt.UTC(), u.Cookies}
		if err := f.SetSheetRow(usersSheet, cellName(i+2), &row); err != nil {
			return fmt.Errorf("write user row %d: %w", i+2, err)
		}
	}

	for _, sheet := range []string{keysSheet, usersSheet} {
		if err := f.SetColWidth(sheet, "A", "F", 24); err != nil {
			return fmt.Errorf("size columns: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func cellName(row int) string {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	return cell
}

func exportFilename(snap *lifecycle.Snapshot) string {
	return fmt.Sprintf("keyforge-%s.xlsx", snap.TakenAt.UTC().Format("20060102-150405"))
}
