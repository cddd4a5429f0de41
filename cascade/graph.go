package cascade

import "fmt"

// Kind selects which entity graph a deletion walks.
type Kind int

const (
	KindOwner Kind = iota
	KindDataset
	KindChat
	KindAgent
	// KindDocuments deletes a subset of one dataset's documents and adjusts
	// the dataset's counters instead of removing it.
	KindDocuments
)

func (k Kind) String() string {
	switch k {
	case KindOwner:
		return "owner"
	case KindDataset:
		return "dataset"
	case KindChat:
		return "chat"
	case KindAgent:
		return "agent"
	case KindDocuments:
		return "documents"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Report categories.
const (
	CatUsers         = "users"
	CatTenants       = "tenants"
	CatUserTenants   = "user_tenants"
	CatDatasets      = "datasets"
	CatDocuments     = "documents"
	CatTasks         = "tasks"
	CatFiles         = "files"
	CatFileRelations = "file_relations"
	CatChats         = "chats"
	CatConversations = "conversations"
	CatAgents        = "agents"
	CatAgentVersions = "agent_versions"
)

// idSet names a set of IDs carried between steps. The root set holds the
// caller's IDs.
type idSet string

const (
	setRoots     idSet = "roots"
	setDatasets  idSet = "datasets"
	setDocuments idSet = "documents"
	setFiles     idSet = "files"
	setChats     idSet = "chats"
	setAgents    idSet = "agents"
)

type op int

const (
	// opCollect selects Column values into Into.
	opCollect op = iota
	// opDelete deletes matching rows and adds the affected count to Category.
	opDelete
	// opSumCounters totals chunk_num and token_num of the matched documents.
	opSumCounters
	// opDecrement lowers the scoped dataset's counters by what was removed,
	// never below zero.
	opDecrement
)

// Step is one statement of an entity graph program.
type Step struct {
	op    op
	table string

	// filter lists the columns compared against the source set; more than
	// one column is joined with OR.
	filter []string
	source idSet

	// column and into are used by opCollect.
	column string
	into   idSet

	category string

	// extra is an additional fixed predicate ANDed onto the filter.
	extra string

	// scoped restricts the statement to the request's dataset (kb_id = ?).
	scoped bool
}

func collect(table, column string, filter string, source, into idSet) Step {
	return Step{op: opCollect, table: table, column: column, filter: []string{filter}, source: source, into: into}
}

func remove(table string, filter string, source idSet, category string) Step {
	return Step{op: opDelete, table: table, filter: []string{filter}, source: source, category: category}
}

// orphanedFiles deletes knowledgebase files in the collected set that no
// join row references any more. Files still linked elsewhere, or owned by
// another source type, survive.
var orphanedFiles = Step{
	op:       opDelete,
	table:    "file",
	filter:   []string{"id"},
	source:   setFiles,
	category: CatFiles,
	extra: "source_type = 'knowledgebase' AND NOT EXISTS " +
		"(SELECT 1 FROM file2document f2d WHERE f2d.file_id = file.id)",
}

// documentSteps tears down everything hanging off the documents set, then
// the documents themselves.
var documentSteps = []Step{
	remove("task", "doc_id", setDocuments, CatTasks),
	collect("file2document", "file_id", "document_id", setDocuments, setFiles),
	remove("file2document", "document_id", setDocuments, CatFileRelations),
	orphanedFiles,
	remove("document", "id", setDocuments, CatDocuments),
}

func concat(parts ...[]Step) []Step {
	var out []Step
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// programs is the entity graph: for each kind, the ordered steps that delete
// a root set bottom-up, parents last.
var programs = map[Kind][]Step{
	KindOwner: concat(
		[]Step{
			collect("knowledgebase", "id", "tenant_id", setRoots, setDatasets),
			collect("document", "id", "kb_id", setDatasets, setDocuments),
		},
		documentSteps,
		[]Step{
			remove("knowledgebase", "id", setDatasets, CatDatasets),
			collect("dialog", "id", "tenant_id", setRoots, setChats),
			remove("conversation", "dialog_id", setChats, CatConversations),
			remove("dialog", "id", setChats, CatChats),
			collect("user_canvas", "id", "user_id", setRoots, setAgents),
			remove("user_canvas_version", "user_canvas_id", setAgents, CatAgentVersions),
			remove("user_canvas", "id", setAgents, CatAgents),
			{op: opDelete, table: "user_tenant", filter: []string{"user_id", "tenant_id"}, source: setRoots, category: CatUserTenants},
			remove("tenant", "id", setRoots, CatTenants),
			remove("user", "id", setRoots, CatUsers),
		},
	),
	KindDataset: concat(
		[]Step{collect("document", "id", "kb_id", setRoots, setDocuments)},
		documentSteps,
		[]Step{remove("knowledgebase", "id", setRoots, CatDatasets)},
	),
	KindChat: {
		remove("conversation", "dialog_id", setRoots, CatConversations),
		remove("dialog", "id", setRoots, CatChats),
	},
	KindAgent: {
		remove("user_canvas_version", "user_canvas_id", setRoots, CatAgentVersions),
		remove("user_canvas", "id", setRoots, CatAgents),
	},
	KindDocuments: concat(
		[]Step{
			{op: opCollect, table: "document", column: "id", filter: []string{"id"}, source: setRoots, into: setDocuments, scoped: true},
			{op: opSumCounters, table: "document", filter: []string{"id"}, source: setDocuments},
		},
		documentSteps,
		[]Step{{op: opDecrement, table: "knowledgebase"}},
	),
}

// rootCategory is the category whose count answers "how many did we delete".
var rootCategory = map[Kind]string{
	KindOwner:     CatUsers,
	KindDataset:   CatDatasets,
	KindChat:      CatChats,
	KindAgent:     CatAgents,
	KindDocuments: CatDocuments,
}

// Categories returns the report keys produced for kind, in program order.
func Categories(kind Kind) []string {
	var cats []string
	seen := map[string]bool{}
	for _, st := range programs[kind] {
		if st.category != "" && !seen[st.category] {
			seen[st.category] = true
			cats = append(cats, st.category)
		}
	}
	return cats
}
