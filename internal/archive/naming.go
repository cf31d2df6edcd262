package archive

import "github.com/rohits-web03/clientvault/internal/models"

// EntryName returns the path of a file inside an archive. Files in the root
// folder ("" or "/") keep their display name; everything else is prefixed
// with its folder path as stored.
func EntryName(folder, name string) string {
	if folder == "" || folder == models.RootFolder {
		return name
	}
	return folder + "/" + name
}
