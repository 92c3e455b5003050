// Package workbook reads enrollment targets from a project workbook and
// writes the collected identifiers back into it.
//
// Layout of a project workbook:
//
//	GAS        gas sensors from row 2: A model, B address, C location, D buzzer
//	LIGHT...   indicator lights from row 2: A model, B address, C location, D timeout
//	Import     label import sheet, identifiers go to column E
//
// The light sheet is the first whose trimmed name is one of LIGHTIMOK,
// LIGHT, LEDIMOK, LED or "Light 24V", compared case-insensitively.
package workbook
