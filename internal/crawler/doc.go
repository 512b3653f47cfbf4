// Package crawler runs breadth-first crawl sessions: it owns the frontier, applies
// admission policy (domains, extensions, path filters, robots.txt) at dequeue time,
// and drains the frontier in bounded batches through the fetch executor.
package crawler
