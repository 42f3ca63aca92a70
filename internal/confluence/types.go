package confluence

// Wire types for the subset of the content REST payload the crawler reads.

type pageJSON struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Space struct {
		Key string `json:"key"`
	} `json:"space"`
	Version struct {
		Number int `json:"number"`
	} `json:"version"`
	Metadata struct {
		Labels struct {
			Results []struct {
				Name string `json:"name"`
			} `json:"results"`
		} `json:"labels"`
	} `json:"metadata"`
	Links linksJSON `json:"_links"`
}

type childPageJSON struct {
	Results []struct {
		ID    string    `json:"id"`
		Title string    `json:"title"`
		Links linksJSON `json:"_links"`
	} `json:"results"`
	Size int `json:"size"`
}

type linksJSON struct {
	WebUI string `json:"webui"`
}
