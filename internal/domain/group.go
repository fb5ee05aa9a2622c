package domain

// Group folds ordered flat rows into documents.
//
// Single linear pass: the first row of each DocEntry provides the header
// snapshot, every row appends a line. Document order is first-seen, line
// order is source order; nothing is sorted here, correctness rides on the
// extractor's (DocEntry, LineNum) ordering.
//
// Header columns on later rows of the same document are assumed equal to
// the first row's and are not cross-checked. If the source ever violates
// that, the stored header quietly reflects the first line only.
func Group(rows []FlatRow) []Document {
	if len(rows) == 0 {
		return nil
	}

	docs := make([]Document, 0, 8)
	index := make(map[int64]int, 8)

	for _, r := range rows {
		i, ok := index[r.DocEntry]
		if !ok {
			i = len(docs)
			index[r.DocEntry] = i
			docs = append(docs, Document{
				DocEntry:     r.DocEntry,
				DocNum:       r.DocNum,
				CardCode:     r.CardCode,
				CardName:     r.CardName,
				DocDate:      r.DocDate,
				SalesManager: r.SalesManager,
				Remarks:      r.Remarks,
				TotalAmount:  r.TotalAmount,
				Currency:     r.Currency,
			})
		}
		docs[i].Lines = append(docs[i].Lines, LineItem{
			LineNum:   r.LineNum,
			ItemCode:  r.ItemCode,
			ItemName:  r.ItemName,
			Quantity:  r.Quantity,
			Price:     r.Price,
			LineTotal: r.LineTotal,
		})
	}
	return docs
}
