package executor

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
)

// UpdateIdentity makes the forger the witness of both parties of the
// transaction and records each party as an associate of the other at
// height. Once fees are no longer split the witnesses stay and the
// associates are cleared. The identities from before the change are stored
// in undo.
func (e *Executor) UpdateIdentity(tx *database.Transaction, repo database.Repository, forger common.Address, height uint64, undo *database.TxUndo) error {
	sender, err := tx.Sender()
	if err != nil {
		return err
	}
	receiver := tx.Receiver()

	senderAcc := repo.GetAccountState(sender)
	if senderAcc == nil {
		return ErrNoAccount
	}
	undo.Sender = senderAcc.Identity()

	var receiverAcc *database.AccountState
	if !database.IsBurn(receiver) {
		receiverAcc = repo.GetAccountState(receiver)
		if receiverAcc == nil {
			return ErrNoAccount
		}
		undo.Receiver = receiverAcc.Identity()
	}

	split := e.FeeSplit(height)

	update := func(as *database.AccountState, other common.Address) {
		if !split {
			as.SetAssociates(nil, height)
			return
		}
		as.UpdateAssociate(other, height)
		as.SetWitness(forger.Bytes())
	}

	update(senderAcc, receiver)
	repo.SetAccountState(sender, senderAcc)

	if receiverAcc != nil {

		// Reload in case sender and receiver are the same account.
		receiverAcc = repo.GetAccountState(receiver)
		update(receiverAcc, sender)
		repo.SetAccountState(receiver, receiverAcc)
	}

	return nil
}

// RollbackIdentity restores the identities stored by UpdateIdentity.
func RollbackIdentity(tx *database.Transaction, repo database.Repository, undo database.TxUndo) error {
	sender, err := tx.Sender()
	if err != nil {
		return err
	}
	receiver := tx.Receiver()

	if !database.IsBurn(receiver) {
		if as := repo.GetAccountState(receiver); as != nil {
			as.RestoreIdentity(undo.Receiver)
			repo.SetAccountState(receiver, as)
		}
	}

	as := repo.GetAccountState(sender)
	if as == nil {
		return ErrNoAccount
	}
	as.RestoreIdentity(undo.Sender)
	repo.SetAccountState(sender, as)

	return nil
}
