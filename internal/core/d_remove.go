package core

import (
	"os"

	"github.com/karrick/godirwalk"
)

func (d *Download) removeData() error {
	d.layout.Remove()

	_, err := pruneEmptyDirectories(d.basePath)
	if os.IsNotExist(err) {
		return nil
	}

	return err
}

func pruneEmptyDirectories(osDirname string) (int, error) {
	var count int

	err := godirwalk.Walk(osDirname, &godirwalk.Options{
		Unsorted: true,
		Callback: func(_ string, _ *godirwalk.Dirent) error {
			return nil
		},
		PostChildrenCallback: func(osPathname string, _ *godirwalk.Dirent) error {
			s, err := godirwalk.NewScanner(osPathname)
			if err != nil {
				return err
			}

			// Scan skips both "." and ".."
			hasAtLeastOneChild := s.Scan()

			if err := s.Err(); err != nil {
				return err
			}

			if hasAtLeastOneChild {
				return nil
			}

			err = os.Remove(osPathname)
			if err == nil {
				count++
			}
			return err
		},
	})

	return count, err
}
