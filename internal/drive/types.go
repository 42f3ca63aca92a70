package drive

// Wire types for the subset of the files REST payload the crawler reads.

type fileJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MimeType    string `json:"mimeType"`
	WebViewLink string `json:"webViewLink"`
}

type fileListJSON struct {
	NextPageToken string     `json:"nextPageToken"`
	Files         []fileJSON `json:"files"`
}
