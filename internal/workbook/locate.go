package workbook

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// listExtensions are tried in order. Legacy .xls files cannot be opened.
var listExtensions = []string{".xlsm", ".xlsx"}

// Locate finds the device list of a project under root:
//
//	{root}/20{NN}/{project}/{project}_Anlageinfos/DS_{project}/Liste_{project}.xlsm
//
// NN is the first two digits of the project number. .xlsx is tried when
// no .xlsm exists.
func Locate(root, project string) (string, error) {
	project = strings.TrimSpace(project)
	if len(project) < 2 || strings.Trim(project, "0123456789") != "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidProject, project)
	}

	dir := filepath.Join(root, "20"+project[:2], project, project+"_Anlageinfos", "DS_"+project)
	for _, ext := range listExtensions {
		path := filepath.Join(dir, "Liste_"+project+ext)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("checking %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("%w: %s in %s", ErrProjectNotFound, project, dir)
}
