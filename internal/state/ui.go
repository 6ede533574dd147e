package state

import (
	"errors"
	"fmt"

	"github.com/bryan-buckman/feedwatch/internal/model"
	"github.com/samber/lo"
)

// ErrUnknownItem is returned by OpenItem for an id not in the collection.
var ErrUnknownItem = errors.New("unknown item")

// OpenItem shows item id in the modal and marks it viewed. These are two
// mutations with one notification each.
func (s *Store) OpenItem(id int64) error {
	if !lo.ContainsBy(s.Items(), func(it model.Item) bool { return it.ID == id }) {
		return fmt.Errorf("%w: %d", ErrUnknownItem, id)
	}
	if err := s.Set(ModalItem, &id); err != nil {
		return err
	}
	return s.Update(ViewedItems, func(old any) (any, error) {
		viewed := old.(model.IDSet)
		viewed[id] = struct{}{}
		return viewed, nil
	})
}

// CloseModal clears the open item. The viewed set is left as is.
func (s *Store) CloseModal() error {
	return s.Set(ModalItem, nil)
}
