package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
	gormSqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const syncCheckInterval = time.Second * 5
const syncMaxDuration = time.Minute
const syncChanBufferLen = 1

const snapshotPrefix = "kv_"
const snapshotSuffix = ".sqlite"
const snapshotTimeLayout = "2006_01_02_15_04_05.000000"

type Config interface {
	// DBDirPath is the snapshot directory, empty means memory only.
	DBDirPath() string
	SyncInterval() time.Duration
	Backups() int
}

// DB is an in-memory SQLite database mirrored into timestamped snapshot files.
type DB struct {
	cfg      Config
	dbDriver *sqlite3.SQLiteDriver
	dbc      *sql.DB
	gormDB   *gorm.DB

	ctx       context.Context
	cncl      context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	t            *time.Ticker
	lastSyncTime time.Time
	syncCh       chan struct{}
}

func New(cfg Config) (*DB, error) {
	d := &DB{
		cfg:          cfg,
		lastSyncTime: time.Now(),
		dbDriver:     &sqlite3.SQLiteDriver{},
		t:            time.NewTicker(syncCheckInterval),
		syncCh:       make(chan struct{}, syncChanBufferLen),
		done:         make(chan struct{}),
	}
	d.ctx, d.cncl = context.WithCancel(context.Background())

	dbc, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		d.stopTimers()
		return nil, fmt.Errorf("db failed creating memory connection: %w", err)
	}
	// every pooled connection to :memory: would be a separate database
	dbc.SetMaxOpenConns(1)
	d.dbc = dbc

	gormLog := logger.New(
		log.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true, // values are session credentials
			Colorful:                  false,
		},
	)
	d.gormDB, err = gorm.Open(gormSqlite.Dialector{Conn: d.dbc}, &gorm.Config{Logger: gormLog})
	if err != nil {
		d.stopTimers()
		_ = dbc.Close()
		return nil, fmt.Errorf("db failed gorm-ing connection: %w", err)
	}

	err = d.syncUp(d.ctx)
	if err != nil {
		d.stopTimers()
		_ = dbc.Close()
		return nil, fmt.Errorf("db init failed: sync up: %w", err)
	}

	go d.syncer()
	return d, nil
}

// SyncNow requests a snapshot. It never blocks, pending requests are coalesced.
func (d *DB) SyncNow() {
	select {
	case d.syncCh <- struct{}{}:
	default:
	}
}

func (d *DB) GORM() *gorm.DB {
	return d.gormDB
}

// Close stops the syncer, writes a final snapshot and closes the database.
func (d *DB) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.cncl()
		<-d.done
		d.t.Stop()
		err = d.dbc.Close()
	})
	if err != nil {
		return fmt.Errorf("db close failed: %w", err)
	}
	return nil
}

func (d *DB) stopTimers() {
	d.cncl()
	d.t.Stop()
}

func (d *DB) persistent() bool {
	return d.cfg.DBDirPath() != ""
}

func (d *DB) snapshots() ([]os.DirEntry, error) {
	files, err := os.ReadDir(d.cfg.DBDirPath())
	if err != nil {
		return nil, err
	}

	// ReadDir sorts by name, the time layout keeps that chronological
	var snaps []os.DirEntry
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if !strings.HasPrefix(f.Name(), snapshotPrefix) || !strings.HasSuffix(f.Name(), snapshotSuffix) {
			continue
		}
		snaps = append(snaps, f)
	}
	return snaps, nil
}

func (d *DB) syncUp(ctx context.Context) error {
	if !d.persistent() {
		log.Info("[DB] no snapshot dir configured, running memory only")
		return nil
	}

	err := os.MkdirAll(d.cfg.DBDirPath(), 0o700)
	if err != nil {
		return fmt.Errorf("creating dir failed: %w", err)
	}

	snaps, err := d.snapshots()
	if err != nil {
		return fmt.Errorf("reading dir failed: %w", err)
	}
	if len(snaps) == 0 {
		log.Infof("[DB] no stored snapshot in dir %s", d.cfg.DBDirPath())
		return nil
	}
	file := snaps[len(snaps)-1]

	log.Infof("[DB] starting sync up from %s", file.Name())

	dsn := fmt.Sprintf("file:%s?mode=rw", filepath.Join(d.cfg.DBDirPath(), file.Name()))
	sdbc, err := d.dbDriver.Open(dsn)
	if err != nil {
		return fmt.Errorf("failed connecting to db %s: %w", dsn, err)
	}
	defer func(sdbc driver.Conn) {
		_ = sdbc.Close()
	}(sdbc)

	sdb, ok := sdbc.(*sqlite3.SQLiteConn)
	if !ok {
		return fmt.Errorf("failed asserting source connection as sqlite")
	}

	tdbc, err := d.dbc.Conn(ctx)
	if err != nil {
		return fmt.Errorf("memory connection failed: %w", err)
	}
	defer func(tdbc *sql.Conn) {
		_ = tdbc.Close()
	}(tdbc)

	return tdbc.Raw(func(targetConn any) error {
		tdb, ok := targetConn.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("failed asserting memory connection as sqlite")
		}
		return backup(tdb, sdb, "up")
	})
}

func (d *DB) syncer() {
	defer close(d.done)

	log.Info("[DB] running syncer")
	for {
		select {
		case <-d.ctx.Done():
			log.Info("[DB] sync down by closed context")
			d.syncDownLogged()
			return
		case <-d.syncCh:
			log.Debug("[DB] sync down by request")
			d.syncDownLogged()
		case <-d.t.C:
			if time.Since(d.lastSyncTime) < d.cfg.SyncInterval() {
				continue
			}
			log.Info("[DB] sync down by timer")
			d.syncDownLogged()
		}
	}
}

func (d *DB) syncDownLogged() {
	err := d.syncDown()
	if err != nil {
		log.Errorf("[DB] sync down failed: %s", err)
	}
}

func (d *DB) syncDown() error {
	d.lastSyncTime = time.Now()
	if !d.persistent() {
		return nil
	}

	name := snapshotPrefix + d.lastSyncTime.Format(snapshotTimeLayout) + snapshotSuffix
	dsn := fmt.Sprintf("file:%s?mode=rwc", filepath.Join(d.cfg.DBDirPath(), name))
	dbtc, err := d.dbDriver.Open(dsn)
	if err != nil {
		return fmt.Errorf("failed connecting to db %s: %w", dsn, err)
	}
	defer func(dbtc driver.Conn) {
		_ = dbtc.Close()
	}(dbtc)

	tdb, ok := dbtc.(*sqlite3.SQLiteConn)
	if !ok {
		return fmt.Errorf("failed asserting target connection as sqlite")
	}

	ctx, cncl := context.WithTimeout(context.Background(), syncMaxDuration)
	defer cncl()

	sdbc, err := d.dbc.Conn(ctx)
	if err != nil {
		return fmt.Errorf("memory connection failed: %w", err)
	}
	defer func(sdbc *sql.Conn) {
		_ = sdbc.Close()
	}(sdbc)

	err = sdbc.Raw(func(sourceConn any) error {
		sdb, ok := sourceConn.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("failed asserting memory connection as sqlite")
		}
		return backup(tdb, sdb, "down")
	})
	if err != nil {
		return err
	}

	d.clearExtraSnapshots()
	return nil
}

func backup(dst, src *sqlite3.SQLiteConn, direction string) error {
	bck, err := dst.Backup("main", src, "main")
	if err != nil {
		return fmt.Errorf("sync %s backup start failed: %w", direction, err)
	}

	for {
		ok, err := bck.Step(-1)
		if err != nil {
			_ = bck.Finish()
			return fmt.Errorf("sync %s step failed: %w", direction, err)
		}
		if ok {
			break
		}
	}
	err = bck.Finish()
	if err != nil {
		return fmt.Errorf("sync %s finish failed: %w", direction, err)
	}
	log.Debugf("[DB] sync %s done", direction)
	return nil
}

func (d *DB) clearExtraSnapshots() {
	snaps, err := d.snapshots()
	if err != nil {
		log.Errorf("[DB] remove old snapshots failed: %s", err)
		return
	}

	keep := d.cfg.Backups()
	if keep < 1 {
		keep = 1
	}
	if len(snaps) <= keep {
		return
	}
	for _, f := range snaps[:len(snaps)-keep] {
		fn := filepath.Join(d.cfg.DBDirPath(), f.Name())
		log.Infof("[DB] removing old snapshot %s", fn)
		err = os.Remove(fn)
		if err != nil {
			log.Errorf("[DB] failed removing %s: %s", fn, err)
		}
	}
}
