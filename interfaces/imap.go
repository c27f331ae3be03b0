package interfaces

import "context"

// EmailHeader is the header snapshot a worker fetches for one message.
type EmailHeader struct {
	UID       uint32   `json:"uid,string"`
	From      string   `json:"from"`
	Subject   string   `json:"subject"`
	Date      string   `json:"date"`
	Flags     []string `json:"flags,omitempty"`
	IsSeen    bool     `json:"is_seen"`
	IsFlagged bool     `json:"is_flagged"`
}

// FolderFetchOptions controls a folder-drain fetch.
type FolderFetchOptions struct {
	Limit        int
	OldestFirst  bool
	SinceDaysAgo *int
	SkipFlagged  bool
}

// InboxFetchOptions controls an inbox-cleanup fetch. Only SEEN messages are
// fetched unless IncludeUnread is set.
type InboxFetchOptions struct {
	Limit         int
	OldestFirst   bool
	IncludeUnread bool
	SinceDaysAgo  *int
	SkipFlagged   bool
}

// IMAPSession is one logged-in connection. Sessions are single-threaded: a
// worker holds exactly one for the duration of its run.
type IMAPSession interface {
	FetchFromFolder(ctx context.Context, folder string, opts FolderFetchOptions) ([]EmailHeader, int, error)
	FetchInbox(ctx context.Context, folder string, opts InboxFetchOptions) ([]EmailHeader, error)
	ListFolders(ctx context.Context) ([]string, error)
	EnsureFolder(ctx context.Context, folder string) error
	RenameFolder(ctx context.Context, oldName, newName string) error
	Move(ctx context.Context, uid uint32, sourceFolder, destFolder string) error
	Trash(ctx context.Context, uid uint32, sourceFolder string) error
	Logout() error
}

// IMAPDialer opens sessions against the configured server.
type IMAPDialer interface {
	Dial(ctx context.Context, username, password string) (IMAPSession, error)
}
