package historystore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// rootAgentName is the fixed agent-file prefix for the root context.
const rootAgentName = "root"

var seqSuffixRE = regexp.MustCompile(`(\d+)$`)

// Store owns the files for one (session_dir, agent_name) pair. One
// Store per agent; sub-agent stores live in the same session directory
// under a different agent name (their own sub-agent/session id).
type Store struct {
	dir       string
	agentName string
	isRoot    bool
	prefix    string

	mu           sync.Mutex
	seq          int
	lastMsgID    string
	everAppended bool // true once history.jsonl has at least one record, this process or a prior one
	flushedCount int // explicit counter (§9 open question resolution), never len(chatHistory)
	flushedMeta  int
	pendingCompaction *CompactionMetadata

	// initialPrevMsgID is the parent's last-assigned msg_id captured at
	// sub-agent-creation time (§4.9); empty for the root context.
	initialPrevMsgID string
}

// Open constructs a Store for agentName within sessionDir, recovering
// the msg_id sequence from any existing history.jsonl so ids are never
// reused across process restarts.
func Open(sessionDir, agentName string) (*Store, error) {
	return open(sessionDir, agentName, "")
}

// OpenSubAgent constructs a Store for a sub-agent, capturing the
// parent's current last msg_id (via parentStore.LastMsgID(), read at
// the moment of sub-agent creation) so the sub-agent's first history
// record links back into the parent's chain (§4.9).
func OpenSubAgent(sessionDir, agentName string, parentStore *Store) (*Store, error) {
	return open(sessionDir, agentName, parentStore.LastMsgID())
}

func open(sessionDir, agentName, initialPrevMsgID string) (*Store, error) {
	if err := os.MkdirAll(sessionDir, 0o750); err != nil {
		return nil, err
	}
	s := &Store{
		dir:              sessionDir,
		agentName:        agentName,
		isRoot:           agentName == rootAgentName,
		prefix:           prefixFor(agentName),
		initialPrevMsgID: initialPrevMsgID,
	}
	if err := s.recoverSequence(); err != nil {
		return nil, err
	}
	return s, nil
}

func prefixFor(agentName string) string {
	if agentName == rootAgentName {
		return "m_"
	}
	n := 8
	if len(agentName) < n {
		n = len(agentName)
	}
	return fmt.Sprintf("m_%s_", agentName[:n])
}

func (s *Store) historyPath() string  { return filepath.Join(s.dir, s.agentName+".history.jsonl") }
func (s *Store) metadataPath() string { return filepath.Join(s.dir, s.agentName+".metadata.jsonl") }
func (s *Store) contextPath() string  { return filepath.Join(s.dir, s.agentName+".context.jsonl") }
func (s *Store) sessionPath() string  { return filepath.Join(s.dir, "session.json") }

func (s *Store) archivePath(suffix string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.context.jsonl", suffix))
}

// recoverSequence scans the existing history.jsonl (if any) for the
// highest assigned sequence number so a fresh Store never reuses an id.
func (s *Store) recoverSequence() error {
	records, err := readJSONL[HistoryMessage](s.historyPath())
	if err != nil {
		return err
	}
	max := 0
	last := ""
	for _, r := range records {
		if seq, ok := extractSeq(r.MsgID); ok && seq > max {
			max = seq
			last = r.MsgID
		}
	}
	s.seq = max
	s.lastMsgID = last
	s.everAppended = len(records) > 0
	return nil
}

func extractSeq(msgID string) (int, bool) {
	m := seqSuffixRE.FindStringSubmatch(msgID)
	if m == nil {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(m[1], "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// nextMsgID assigns and returns the next id in sequence, updating
// lastMsgID. Caller must hold s.mu.
func (s *Store) nextMsgID() string {
	s.seq++
	id := fmt.Sprintf("%s%04d", s.prefix, s.seq)
	s.lastMsgID = id
	return id
}

// LastMsgID returns the most recently assigned msg_id, used to capture
// the parent's chain position at sub-agent-creation time (§4.9).
func (s *Store) LastMsgID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMsgID
}

// IsRoot reports whether this store is the root context's store.
func (s *Store) IsRoot() bool { return s.isRoot }

// PrimeFlushCounters sets the flush counters to the current lengths of
// the loaded context/usage lists, so the next Flush only appends
// messages genuinely new since load (§4.9 Resume).
func (s *Store) PrimeFlushCounters(msgCount, metaCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushedCount = msgCount
	s.flushedMeta = metaCount
}
