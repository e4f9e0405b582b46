package engine

// TreeCapacity is the default hard capacity of a memtable, TREE_CAPACITY in
// the design document.
const TreeCapacity = 4096

// IndexPaddingWidth is the zero-padding width used for every numeric file
// index (SSTable, WAL, compaction intent).
const IndexPaddingWidth = 20
