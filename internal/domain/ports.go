package domain

import "context"

type RemoteChannel interface {
	Ping(ctx context.Context, p ConnectionProfile) error
	Run(ctx context.Context, p ConnectionProfile, cmd Command) (CommandResult, error)
	Copy(ctx context.Context, p ConnectionProfile, localPath, remotePath string) error
	Remove(ctx context.Context, p ConnectionProfile, remotePath string) error
}

// Fetcher performs one unauthenticated read of a health endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// ImageExporter serializes a local container image into a file.
type ImageExporter interface {
	Export(ctx context.Context, image, path string) error
}

// ImageStore can also load a previously exported image back.
type ImageStore interface {
	ImageExporter
	Import(ctx context.Context, path string) error
}

type BuildLog interface {
	Append(ctx context.Context, r BuildRecord) error
	List(ctx context.Context, job string) ([]BuildRecord, error)
	LatestSuccessBelow(ctx context.Context, job, env string, below int64) (BuildRecord, bool, error)
}

type ArtifactArchive interface {
	Store(ctx context.Context, r BuildRecord) (BuildRecord, error)
	Fetch(ctx context.Context, r BuildRecord) (string, error)
}

type Approver interface {
	Await(ctx context.Context, job string, build int64) error
}

type RunLock interface {
	TryLock(job string) (release func(), err error)
}

type Notifier interface {
	Notify(ctx context.Context, title, body, url string) error
}

type RunObserver interface {
	Observe(r RunReport)
}
