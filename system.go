// Package railbook implements a single-node, disk-backed train-ticket
// reservation engine: users, train schedules, per-run seat inventories,
// orders and a FIFO pending queue, all persisted in B+ trees.
package railbook

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/yuhao-qian/railbook/bptree"
	"github.com/yuhao-qian/railbook/internal/datetime"
)

// System ties the user, train and ticket subsystems over their trees
// and dispatches text commands. All output goes to the explicit writer.
type System struct {
	out      io.Writer
	sessions *sessionTable

	users   *bptree.BPTree
	trains  *bptree.BPTree
	seats   *bptree.BPTree
	passby  *bptree.BPTree
	orders  *bptree.BPTree
	ordNum  *bptree.BPTree
	pending *bptree.BPTree
}

// Open opens (creating when missing) every tree under dir.
func Open(dir string, out io.Writer) (*System, error) {
	s := &System{out: out, sessions: newSessionTable()}

	tables := []struct {
		tree      **bptree.BPTree
		name      string
		keySize   int
		valueSize int
	}{
		{&s.users, "users", 8, userInfoSize},
		{&s.trains, "trains", 8, trainInfoSize},
		{&s.seats, "seats", 12, seatInfoSize},
		{&s.passby, "trainsPassing", 16, passbySize},
		{&s.orders, "orders", 12, orderValueSize},
		{&s.ordNum, "orderNumber", 8, 4},
		{&s.pending, "ordersPending", 16, pendingRowSize},
	}

	for _, tbl := range tables {
		t, err := bptree.Open(dir, tbl.name, tbl.keySize, tbl.valueSize)

		if err != nil {
			s.closeOpened()
			return nil, err
		}

		*tbl.tree = t
	}

	return s, nil
}

// Close flushes and closes every tree.
func (s *System) Close() error {
	var err error

	for _, t := range s.trees() {
		if t == nil {
			continue
		}

		if err2 := t.Close(); err == nil {
			err = err2
		}
	}

	return err
}

func (s *System) trees() []*bptree.BPTree {
	return []*bptree.BPTree{s.users, s.trains, s.seats, s.passby, s.orders, s.ordNum, s.pending}
}

func (s *System) closeOpened() {
	for _, t := range s.trees() {
		if t != nil {
			t.Close()
		}
	}
}

// clean truncates every tree and logs everyone out.
func (s *System) clean() (string, error) {
	for _, t := range s.trees() {
		if err := t.Clear(); err != nil {
			return "", err
		}
	}

	s.sessions.clear()
	return "0", nil
}

// Execute runs one input line of the form "[timestamp] command -x value ..."
// and writes the response, prefixed with the timestamp. It returns false
// once the exit command has been processed.
func (s *System) Execute(line string) bool {
	sc := newScanner(line)
	stamp := sc.next()
	op := sc.next()

	var args argMap

	for sc.more() {
		flag := sc.next()
		value := sc.next()

		if len(flag) >= 2 && flag[0] == '-' {
			args.set(flag[1], value)
		}
	}

	if op == "exit" {
		fmt.Fprintf(s.out, "%s bye\n", stamp)
		return false
	}

	result, err := s.dispatch(op, stamp, &args)

	if err != nil {
		result = "-1"
	}

	fmt.Fprintf(s.out, "%s %s\n", stamp, result)
	return true
}

func (s *System) dispatch(op, stamp string, args *argMap) (string, error) {
	switch op {
	case "add_user":
		if err := checkLens(args, map[byte]int{'c': maxUserLen, 'u': maxUserLen,
			'p': maxPasswordLen, 'n': maxNameLen, 'm': maxMailLen}); err != nil {
			return "", err
		}

		return s.addUser(args.get('c'), args.get('u'), args.get('p'),
			args.get('n'), args.get('m'), toInt(args.get('g')))

	case "login":
		return s.login(args.get('u'), args.get('p'))

	case "logout":
		return s.logout(args.get('u'))

	case "query_profile":
		return s.queryProfile(args.get('c'), args.get('u'))

	case "modify_profile":
		if err := checkLens(args, map[byte]int{'p': maxPasswordLen,
			'n': maxNameLen, 'm': maxMailLen}); err != nil {
			return "", err
		}

		privilege := -1

		if g := args.get('g'); g != "" {
			privilege = toInt(g)
		}

		return s.modifyProfile(args.get('c'), args.get('u'), args.get('p'),
			args.get('n'), args.get('m'), privilege)

	case "add_train":
		if len(args.get('i')) > maxTrainLen {
			return "", errInvalidArgument
		}

		start, err := datetime.ParseTime(args.get('x'))

		if err != nil {
			return "", errInvalidArgument
		}

		typ := args.get('y')

		if typ == "" {
			return "", errInvalidArgument
		}

		return s.addTrain(args.get('i'), toInt(args.get('n')), toInt(args.get('m')),
			args.get('s'), args.get('p'), start, args.get('t'), args.get('o'),
			args.get('d'), typ[0])

	case "delete_train":
		return s.deleteTrain(args.get('i'))

	case "release_train":
		return s.releaseTrain(args.get('i'))

	case "query_train":
		date, err := datetime.ParseDate(args.get('d'))

		if err != nil {
			return "", errInvalidArgument
		}

		return s.queryTrain(args.get('i'), date)

	case "query_ticket":
		date, err := datetime.ParseDate(args.get('d'))

		if err != nil {
			return "", errInvalidArgument
		}

		return s.queryTicket(args.get('s'), args.get('t'), date, args.get('p') == "cost")

	case "query_transfer":
		date, err := datetime.ParseDate(args.get('d'))

		if err != nil {
			return "", errInvalidArgument
		}

		return s.queryTransfer(args.get('s'), args.get('t'), date, args.get('p') == "cost")

	case "buy_ticket":
		date, err := datetime.ParseDate(args.get('d'))

		if err != nil {
			return "", errInvalidArgument
		}

		return s.buyTicket(args.get('u'), args.get('i'), date, toInt(args.get('n')),
			args.get('f'), args.get('t'), args.get('q') == "true", opTime(stamp))

	case "query_order":
		return s.queryOrder(args.get('u'))

	case "refund_ticket":
		k := 1

		if n := args.get('n'); n != "" {
			if k = toInt(n); k < 1 {
				k = 1
			}
		}

		return s.refundTicket(args.get('u'), k)

	case "clean":
		return s.clean()
	}

	return "", fmt.Errorf("%w: unknown command %q", errInvalidArgument, op)
}

// opTime extracts the numeric timestamp from its "[n]" form; it orders
// the pending queue.
func opTime(stamp string) uint32 {
	inner := strings.Trim(stamp, "[]")
	n, _ := strconv.ParseUint(inner, 10, 32)
	return uint32(n)
}

func checkLens(args *argMap, caps map[byte]int) error {
	for flag, max := range caps {
		if len(args.get(flag)) > max {
			return errInvalidArgument
		}
	}

	return nil
}
