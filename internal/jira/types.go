package jira

// Wire types for the subset of the issue REST payload the crawler reads.

type searchPageJSON struct {
	StartAt    int         `json:"startAt"`
	MaxResults int         `json:"maxResults"`
	Total      int         `json:"total"`
	Issues     []issueJSON `json:"issues"`
}

type issueJSON struct {
	Key    string     `json:"key"`
	Fields fieldsJSON `json:"fields"`
}

type fieldsJSON struct {
	Summary     string          `json:"summary"`
	Description string          `json:"description"`
	Labels      []string        `json:"labels"`
	Status      namedJSON       `json:"status"`
	IssueType   namedJSON       `json:"issuetype"`
	Assignee    *personJSON     `json:"assignee"`
	Reporter    *personJSON     `json:"reporter"`
	Subtasks    []subtaskJSON   `json:"subtasks"`
	IssueLinks  []issueLinkJSON `json:"issuelinks"`
}

type namedJSON struct {
	Name string `json:"name"`
}

type personJSON struct {
	DisplayName string `json:"displayName"`
}

type subtaskJSON struct {
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
	} `json:"fields"`
}

type issueLinkJSON struct {
	InwardIssue  *linkedIssueJSON `json:"inwardIssue"`
	OutwardIssue *linkedIssueJSON `json:"outwardIssue"`
}

type linkedIssueJSON struct {
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
	} `json:"fields"`
}

type remoteLinkJSON struct {
	Object struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"object"`
}
