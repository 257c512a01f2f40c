package linker

import (
	"github.com/ksco/xld/pkg/utils"
)

// SymbolDatabase owns every symbol of the link. Globals are interned by
// name; locals and fragment symbols get their own ids.
type SymbolDatabase struct {
	GlobalNames map[string]*Symbol
	Symbols     []*Symbol
}

func NewSymbolDatabase() *SymbolDatabase {
	return &SymbolDatabase{GlobalNames: make(map[string]*Symbol)}
}

func (db *SymbolDatabase) add(sym *Symbol) SymbolId {
	sym.Id = SymbolId(len(db.Symbols))
	db.Symbols = append(db.Symbols, sym)
	return sym.Id
}

func (db *SymbolDatabase) intern(name string) *Symbol {
	if sym, ok := db.GlobalNames[name]; ok {
		return sym
	}
	sym := NewSymbol(name)
	db.GlobalNames[name] = sym
	db.add(sym)
	return sym
}

// Register merges one file's symbol table into the database. Files must
// be registered in link order.
func (db *SymbolDatabase) Register(file InputFiler) {
	f := file.Base()
	for i := int64(0); i < f.FirstGlobal && i < int64(len(f.Symbols)); i++ {
		db.add(f.Symbols[i])
	}
	for i, name := range f.GlobalNames {
		f.Symbols[f.FirstGlobal+int64(i)] = db.intern(name)
	}
}

// Resolve returns the id of the symbol currently bound to name. Names
// nobody defines resolve to nothing.
func (db *SymbolDatabase) Resolve(name string) (SymbolId, bool) {
	sym, ok := db.GlobalNames[name]
	if !ok || sym.File == nil {
		return 0, false
	}
	return sym.Id, true
}

func (db *SymbolDatabase) Symbol(id SymbolId) *Symbol {
	return db.Symbols[id]
}

// Definer reports which file supplies name.
func (db *SymbolDatabase) Definer(name string) *InputFile {
	if id, ok := db.Resolve(name); ok {
		return db.Symbols[id].File
	}
	return nil
}

func (db *SymbolDatabase) Len() int {
	return len(db.Symbols)
}

// BuildSymbolDatabase registers every input and binds each global name
// to its winning definition. Per-file symbol tables were decoded in
// parallel while parsing; the merge below runs in link order, which
// makes ids and winners independent of scheduling.
func BuildSymbolDatabase(ctx *Context) {
	db := NewSymbolDatabase()
	ctx.SymbolDB = db

	for _, file := range ctx.Files {
		db.Register(file)
	}

	for _, file := range ctx.Files {
		file.ResolveSymbols()
	}

	MarkLiveObjects(ctx)

	for _, file := range ctx.Files {
		if !file.Base().IsAlive {
			file.Base().ClearSymbols()
		}
	}

	for _, file := range ctx.Files {
		if file.Base().IsAlive {
			file.ResolveSymbols()
		}
	}

	for _, obj := range ctx.Objs {
		obj.ClaimUnresolvedSymbols(ctx)
	}
}

func MarkLiveObjects(ctx *Context) {
	roots := make([]InputFiler, 0)
	for _, file := range ctx.Files {
		if file.Base().IsAlive {
			roots = append(roots, file)
		}
	}

	utils.Assert(len(roots) > 0)

	for len(roots) > 0 {
		file := roots[0]
		roots = roots[1:]
		file.MarkLiveObjects(func(f InputFiler) {
			roots = append(roots, f)
		})
	}
}
