package namespace

import (
	"strings"
)

// DefaultPrefix is used when no prefix is configured.
const DefaultPrefix = "flo"

// Keys builds every store key used by job storage. Keys from different
// prefixes never collide.
type Keys struct {
	prefix string
}

// New returns Keys rooted at prefix. A trailing ':' is dropped and an
// empty prefix selects DefaultPrefix.
func New(prefix string) Keys {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Keys{prefix: prefix}
}

func (k Keys) Prefix() string { return k.prefix }

// Key scopes an arbitrary name, e.g. a counter or set used by the facade.
func (k Keys) Key(name string) string { return k.prefix + ":" + name }

// Job is the hash holding a job's invocation data, parameters and
// bookkeeping fields.
func (k Keys) Job(id string) string { return k.prefix + ":job:" + id }

// JobState holds the current state record of a job.
func (k Keys) JobState(id string) string { return k.prefix + ":job:" + id + ":state" }

// JobHistory is the list of past state records.
func (k Keys) JobHistory(id string) string { return k.prefix + ":job:" + id + ":history" }

// DequeuedSuffix ends every in-flight list key.
const DequeuedSuffix = ":dequeued"

// ValidQueueName reports whether name can be used as a queue. Queue("x:dequeued")
// would be the in-flight list of queue "x", so such names are refused.
func ValidQueueName(name string) bool {
	return name != "" && !strings.HasSuffix(name, DequeuedSuffix)
}

func (k Keys) Queue(name string) string { return k.prefix + ":queue:" + name }

// Dequeued is the in-flight list of a queue.
func (k Keys) Dequeued(name string) string { return k.prefix + ":queue:" + name + DequeuedSuffix }

// Queues is the set of every queue that was ever enqueued to.
func (k Keys) Queues() string { return k.prefix + ":queues" }

func (k Keys) Server(id string) string { return k.prefix + ":server:" + id }

func (k Keys) ServerQueues(id string) string { return k.prefix + ":server:" + id + ":queues" }

func (k Keys) Servers() string { return k.prefix + ":servers" }

// Lock is the key guarding resource. Lock and Key share one key space:
// Lock("servers") is Servers(). Callers pick resource names that do not
// shadow the layout above; the watcher locks "queue:<name>:dequeued:lock".
func (k Keys) Lock(resource string) string { return k.prefix + ":" + resource }

// FetchChannel is the pub/sub channel announcing newly enqueued jobs.
func (k Keys) FetchChannel() string { return k.prefix + ":JobFetchChannel" }

func (k Keys) Meta() string { return k.prefix + ":meta" }

func (k Keys) instance() string { return k.prefix + ":meta:instance" }
