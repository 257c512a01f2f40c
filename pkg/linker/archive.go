package linker

import (
	"fmt"

	"github.com/ksco/xld/pkg/utils"
)

func ReadFatArchiveMembers(file *File) ([]*File, error) {
	contents := file.Contents
	data := 8
	var strTab []byte
	var files []*File

	for len(contents)-data >= 2 {
		if data%2 == 1 {
			data++
		}
		if len(contents)-data < arHdrSize {
			break
		}

		hdr := utils.Read[ArHdr](contents[data:])
		body := data + arHdrSize
		size, err := hdr.GetSize()
		if err != nil || body+size > len(contents) {
			return nil, fmt.Errorf("%s: corrupted archive member header at %d", file.Name, data)
		}
		data = body + size

		if hdr.IsStrtab() {
			strTab = contents[body:data]
			continue
		}

		if hdr.IsSymtab() {
			continue
		}

		name, skip, err := hdr.ReadName(strTab, contents[body:data])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file.Name, err)
		}

		if name == "__.SYMDEF" || name == "__.SYMDEF SORTED" {
			continue
		}

		files = append(files, &File{
			Name:     name,
			Contents: contents[body+skip : data],
			Parent:   file,
		})
	}

	return files, nil
}

func ReadArchiveMembers(file *File) ([]*File, error) {
	switch GetFileType(file.Contents) {
	case FileTypeAr:
		return ReadFatArchiveMembers(file)
	case FileTypeThinAr:
		return nil, configErrorf("%s: thin archives are not supported", file.Name)
	}
	return nil, fmt.Errorf("%s: not an archive", file.Name)
}
