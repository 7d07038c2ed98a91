package transcript

import "tush00nka/bbbab_sync/internal/model"

// ReadState для каждого пользователя — id последнего сообщения (в порядке
// транскрипта), где он есть в seen_by. Чистая функция над снапшотом:
// независимого состояния нет, расходиться с транскриптом нечему.
func ReadState(msgs []model.Message) map[uint]uint {
	out := make(map[uint]uint)
	for i := len(msgs) - 1; i >= 0; i-- {
		for id := range msgs[i].SeenBy {
			if _, ok := out[id]; !ok {
				out[id] = msgs[i].ID
			}
		}
	}
	return out
}

// ReadState проекция по текущему снапшоту
func (s *Store) ReadState() map[uint]uint {
	return ReadState(s.Snapshot())
}
