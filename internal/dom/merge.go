package dom

// Merge answers uniqueness queries across several documents as if they were
// one, searching them in the order given. Replay resolves the light DOM
// before shadow roots, so callers pass the light document first.
func Merge(docs ...Document) Document {
	return merged(docs)
}

type merged []Document

func (m merged) Count(selector string) (int, error) {
	total := 0
	for _, d := range m {
		n, err := d.Count(selector)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (m merged) CountText(tag, text string) (int, error) {
	total := 0
	for _, d := range m {
		n, err := d.CountText(tag, text)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (m merged) QueryFirst(selector string) (Element, error) {
	for _, d := range m {
		el, err := d.QueryFirst(selector)
		if err != nil || el != nil {
			return el, err
		}
	}
	return nil, nil
}

func (m merged) QueryText(tag, text string) (Element, error) {
	for _, d := range m {
		el, err := d.QueryText(tag, text)
		if err != nil || el != nil {
			return el, err
		}
	}
	return nil, nil
}
